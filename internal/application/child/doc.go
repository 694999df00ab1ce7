// Package child implements the command line the deployer re-invokes. Each
// backend supplies an Executor; the verbs it lists become sub-commands of
// the backend's command, and payload-producing verbs hand their result to
// the parent through the result channel named on the command line.
package child
