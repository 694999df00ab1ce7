// Package ports declares the interfaces the deployer core depends on. The
// adapters under pkg/adapters implement them.
package ports
