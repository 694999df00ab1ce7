//go:build unix

package resultchan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/google/uuid"
)

type pipeChannel struct {
	dir  string
	path string
	f    *os.File

	closeOnce sync.Once
	closeErr  error
}

// NewPipe creates a named pipe in a fresh directory under dir and opens its
// read end without blocking, so it must be called before the child starts.
func NewPipe(dir string) (Channel, error) {
	tmpDir, err := os.MkdirTemp(dir, "flowdeploy-pipe-")
	if err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}
	path := filepath.Join(tmpDir, uuid.New().String())
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to create result pipe: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to open result pipe: %w", err)
	}
	return &pipeChannel{dir: tmpDir, path: path, f: f}, nil
}

func (c *pipeChannel) Path() string { return c.path }

func (c *pipeChannel) Read(ctx context.Context, proc Process, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	if timeout > 0 {
		if err := c.f.SetReadDeadline(start.Add(timeout)); err != nil {
			return nil, fmt.Errorf("failed to bound result pipe read: %w", err)
		}
	}

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	exited := false
	for {
		n, err := c.f.Read(chunk)
		buf.Write(chunk[:n])

		switch {
		case err == nil:
			continue

		case errors.Is(err, io.EOF):
			// EOF with data means the writer closed after a full payload.
			// Without data no writer is attached (yet).
			if len(bytes.TrimSpace(buf.Bytes())) > 0 {
				return buf.Bytes(), nil
			}
			if exited {
				return nil, &NoPayloadError{ExitCode: proc.ExitCode()}
			}
			select {
			case <-proc.Done():
				// read once more: the child may have written right before exiting
				exited = true
				continue
			default:
			}
			if timeout > 0 && time.Since(start) >= timeout {
				_ = c.Close()
				return nil, &domain.TimeoutError{Op: "reading result pipe", Bound: timeout}
			}
			select {
			case <-ctx.Done():
				_ = c.Close()
				return nil, ctx.Err()
			case <-time.After(pollInterval):
			}

		case errors.Is(err, os.ErrDeadlineExceeded):
			// closing our end makes a child stuck in write fail with EPIPE
			_ = c.Close()
			return nil, &domain.TimeoutError{Op: "reading result pipe", Bound: timeout}

		default:
			return nil, fmt.Errorf("failed to read result pipe: %w", err)
		}
	}
}

func (c *pipeChannel) Close() error {
	c.closeOnce.Do(func() {
		closeErr := c.f.Close()
		if err := os.RemoveAll(c.dir); err != nil {
			c.closeErr = err
			return
		}
		c.closeErr = closeErr
	})
	return c.closeErr
}

func writePipe(path string, data []byte) error {
	// O_NONBLOCK makes the open fail with ENXIO instead of hanging when
	// the parent has already closed its end.
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ENXIO) {
			return fmt.Errorf("result reader is gone: %w", err)
		}
		return fmt.Errorf("failed to open result pipe: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write result pipe: %w", err)
	}
	return f.Close()
}
