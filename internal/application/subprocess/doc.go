// Package subprocess starts and tracks the child processes that carry out
// backend operations. Children are identified by pid, reaped by a dedicated
// goroutine each, and killed at most once on cleanup.
package subprocess
