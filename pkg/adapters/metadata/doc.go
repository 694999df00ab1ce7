// Package metadata provides run object sources.
//
// Implementations:
//   - postgres: the metadata service database
//   - memory: In-memory for testing
package metadata
