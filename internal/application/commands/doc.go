// Package commands renders the command line of a child invocation:
// executable, flow file, top-level options, backend group, verb and verb
// options, in a deterministic order.
package commands
