// Package domain holds the data model shared by the deployer, the child
// commands and the adapters: run statuses, deployment and run records,
// parameter descriptors and lifecycle events.
package domain
