// Package resultchan implements the side channel through which a child
// process hands exactly one JSON document back to its parent.
//
// Two transports are provided:
//   - file: the child renames a fully written file into place; the parent
//     polls for it and reads it once it is non-empty or the child has exited
//   - pipe: a named pipe whose read end the parent opens before spawning the
//     child, so the child can deliver its result before it exits
//
// Reads are bounded. A read that sees no bytes before the bound fails with a
// *domain.TimeoutError; a child that exits without writing anything fails
// with a *NoPayloadError.
package resultchan
