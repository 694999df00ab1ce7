// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Deployment and run records
//   - Creating, triggering and deleting deployments
//   - Suspending, resuming and terminating runs
//   - Run status queries against the orchestrators
//   - Health checks
//   - Prometheus metrics
package http
