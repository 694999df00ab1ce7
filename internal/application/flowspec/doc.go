// Package flowspec loads, validates and synthesizes YAML flow definitions.
//
// A flow is a named graph of steps starting at "start" and ending at "end",
// with optional typed parameters and an optional project. Deployments derive
// their names from the flow and its project/branch options.
package flowspec
