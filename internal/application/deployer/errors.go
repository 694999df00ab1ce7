package deployer

import (
	"errors"
	"fmt"

	"github.com/aescanero/flowdeploy/internal/application/commands"
)

var (
	// ErrNoBackendType is returned when no backend type was given
	ErrNoBackendType = errors.New("no backend type given")
	// ErrUnknownBackend is returned for a type nobody registered
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrUnsupported is returned for operations a backend does not offer
	ErrUnsupported = errors.New("unsupported for this backend")
	// ErrNilPathspec is returned when a trigger produced no pathspec
	ErrNilPathspec = errors.New("triggered run has no pathspec")
	// ErrProcessFailed is wrapped by failures reported through the exit code
	ErrProcessFailed = errors.New("child process failed")
	// ErrMalformedPayload is returned when the result is not a JSON object
	ErrMalformedPayload = errors.New("malformed result payload")
	// ErrNoFlowFile is returned when a deployment is created without a flow
	ErrNoFlowFile = errors.New("a flow file is required to create a deployment")
	// ErrClosed is returned by operations on a closed Impl
	ErrClosed = errors.New("deployer is closed")
)

// OperationError is a failed lifecycle operation. It names the deployment,
// backend and flow file; the cause is in Err.
type OperationError struct {
	Verb     commands.Verb
	Name     string
	Backend  string
	FlowFile string
	// ExitCode is -1 when the child did not exit in time
	ExitCode int
	// Stderr holds the tail of the child's error output
	Stderr string
	Err    error
}

func (e *OperationError) Error() string {
	target := e.Name
	if target == "" {
		target = "flow"
	}
	msg := fmt.Sprintf("error running %s for %s on %s for %s", e.Verb, target, e.Backend, e.FlowFile)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
