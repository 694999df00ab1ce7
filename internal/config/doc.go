// Package config provides configuration management for flowdeploy.
//
// Configuration is loaded from environment variables using the env package.
// Optional sub-systems (Redis, the metadata database, S3 code packages) are
// disabled while their address is empty.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
