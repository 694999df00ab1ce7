// Package health periodically probes the registered backends.
//
// Each backend contributes a probe, a cheap call against its orchestrator
// API. The monitor runs every probe on a fixed interval, keeps the last
// result per backend and passes every result to the registered listeners,
// which the serve command uses to drive the gRPC health service and the
// backend gauge.
package health
