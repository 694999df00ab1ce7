package resultchan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/google/uuid"
)

const pollInterval = 100 * time.Millisecond

// ErrNoPayload is matched by every NoPayloadError
var ErrNoPayload = errors.New("child exited without a result")

// NoPayloadError reports a child that exited without writing a result
type NoPayloadError struct {
	ExitCode int
}

func (e *NoPayloadError) Error() string {
	return fmt.Sprintf("child exited with code %d without writing a result", e.ExitCode)
}

// Is makes errors.Is(err, ErrNoPayload) true for any NoPayloadError
func (e *NoPayloadError) Is(target error) bool {
	return target == ErrNoPayload
}

// Process is the view of the child a reader needs
type Process interface {
	Done() <-chan struct{}
	ExitCode() int
}

// Channel is a single-use result channel
type Channel interface {
	// Path is handed to the child on its command line
	Path() string
	// Read waits at most timeout for the child's payload. A non-positive
	// timeout waits until the child exits or ctx is done.
	Read(ctx context.Context, proc Process, timeout time.Duration) ([]byte, error)
	// Close releases the channel and removes its temporary directory
	Close() error
}

type fileChannel struct {
	dir  string
	path string

	closeOnce sync.Once
	closeErr  error
}

// NewFile creates a file-backed channel in a fresh directory under dir
// (os.TempDir() when empty).
func NewFile(dir string) (Channel, error) {
	tmpDir, err := os.MkdirTemp(dir, "flowdeploy-result-")
	if err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}
	path := filepath.Join(tmpDir, uuid.New().String()+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to create result file: %w", err)
	}
	_ = f.Close()
	return &fileChannel{dir: tmpDir, path: path}, nil
}

func (c *fileChannel) Path() string { return c.path }

func (c *fileChannel) Read(ctx context.Context, proc Process, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		content, err := readNonEmpty(c.path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			return content, nil
		}

		select {
		case <-proc.Done():
			// the child may have renamed the file into place just before exiting
			content, err := readNonEmpty(c.path)
			if err != nil {
				return nil, err
			}
			if content != nil {
				return content, nil
			}
			return nil, &NoPayloadError{ExitCode: proc.ExitCode()}
		default:
		}

		if timeout > 0 && time.Since(start) >= timeout {
			return nil, &domain.TimeoutError{Op: "reading result file", Bound: timeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *fileChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = os.RemoveAll(c.dir)
	})
	return c.closeErr
}

// readNonEmpty returns nil while the file is missing or blank
func readNonEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

// WriteResult is the child half of the protocol. It encodes v as JSON and
// delivers it through the channel at path.
func WriteResult(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	info, err := os.Stat(path)
	if err == nil && info.Mode()&os.ModeNamedPipe != 0 {
		return writePipe(path, data)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.New().String())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}
