package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/aescanero/flowdeploy/pkg/ports"
	"go.uber.org/zap"
)

// outputLimit bounds the captured stdout/stderr of each child
const outputLimit = 64 * 1024

// RunOptions configures a single child
type RunOptions struct {
	// Env is the complete environment of the child; nil inherits ours
	Env []string
	// Dir is the working directory; empty inherits ours
	Dir string
	// ShowOutput streams the child's output to our stdout/stderr
	ShowOutput bool
}

// Manager tracks running children by pid
type Manager struct {
	metrics ports.MetricsCollector
	logger  *zap.Logger

	mu       sync.Mutex
	commands map[int]*Command
}

// NewManager creates a new process manager
func NewManager(metrics ports.MetricsCollector, logger *zap.Logger) *Manager {
	return &Manager{
		metrics:  metrics,
		logger:   logger,
		commands: make(map[int]*Command),
	}
}

// Run starts argv as a child and returns its pid
func (m *Manager) Run(ctx context.Context, argv []string, opts RunOptions) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("no command provided")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	c := &Command{
		argv: argv,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	stdout, stderr := io.Discard, io.Discard
	if opts.ShowOutput {
		stdout, stderr = os.Stdout, os.Stderr
	}
	cmd.Stdout = io.MultiWriter(stdout, &c.stdout)
	cmd.Stderr = io.MultiWriter(stderr, &c.stderr)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	c.pid = cmd.Process.Pid
	go c.reap()

	m.mu.Lock()
	m.commands[c.pid] = c
	m.mu.Unlock()
	m.reportActive(1)

	m.logger.Debug("started child process",
		zap.Int("pid", c.pid),
		zap.Strings("argv", argv))

	return c.pid, nil
}

// Get returns the tracked child with the given pid
func (m *Manager) Get(pid int) (*Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commands[pid]
	return c, ok
}

// Kill terminates the child with the given pid if it is still running
func (m *Manager) Kill(pid int) error {
	c, ok := m.Get(pid)
	if !ok {
		return nil
	}
	return c.kill()
}

// Release stops tracking pid, killing the child first if it is still running
func (m *Manager) Release(pid int) {
	m.mu.Lock()
	c, ok := m.commands[pid]
	delete(m.commands, pid)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.terminate(c)
	m.reportActive(-1)
}

// Cleanup kills and reaps every tracked child. Safe to call repeatedly.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	commands := make([]*Command, 0, len(m.commands))
	for _, c := range m.commands {
		commands = append(commands, c)
	}
	m.commands = make(map[int]*Command)
	m.mu.Unlock()

	sort.Slice(commands, func(i, j int) bool { return commands[i].pid < commands[j].pid })
	for _, c := range commands {
		m.terminate(c)
	}
	if len(commands) > 0 {
		m.reportActive(-len(commands))
	}
}

// Len returns the number of tracked children
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

func (m *Manager) terminate(c *Command) {
	select {
	case <-c.done:
		return
	default:
	}
	if err := c.kill(); err != nil {
		m.logger.Warn("failed to kill child process",
			zap.Int("pid", c.pid),
			zap.Error(err))
	}
	<-c.done
	m.logger.Debug("killed child process",
		zap.Int("pid", c.pid),
		zap.Int("exit_code", c.ExitCode()))
}

func (m *Manager) reportActive(delta int) {
	if m.metrics != nil {
		m.metrics.AddActiveProcesses(delta)
	}
}

// Command is a tracked child process
type Command struct {
	pid  int
	argv []string
	cmd  *exec.Cmd

	stdout tailBuffer
	stderr tailBuffer

	done     chan struct{}
	exitCode int
	waitErr  error

	killOnce sync.Once
	killErr  error
}

// Pid returns the child's process id
func (c *Command) Pid() int { return c.pid }

// Done is closed once the child has been reaped
func (c *Command) Done() <-chan struct{} { return c.done }

// ExitCode is valid once Done is closed; -1 before that
func (c *Command) ExitCode() int {
	select {
	case <-c.done:
		return c.exitCode
	default:
		return -1
	}
}

// Stdout returns the tail of the child's standard output
func (c *Command) Stdout() []byte { return c.stdout.Bytes() }

// Stderr returns the tail of the child's standard error
func (c *Command) Stderr() []byte { return c.stderr.Bytes() }

// Wait blocks until the child exits, ctx is done, or timeout elapses.
// A non-positive timeout waits without a bound.
func (c *Command) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.done:
		if c.waitErr != nil {
			return c.exitCode, c.waitErr
		}
		return c.exitCode, nil
	case <-expired:
		return -1, &domain.TimeoutError{Op: fmt.Sprintf("waiting for pid %d", c.pid), Bound: timeout}
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (c *Command) reap() {
	err := c.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			c.exitCode = exitCodeFromState(exitErr.ProcessState)
		} else {
			c.exitCode = 1
			c.waitErr = fmt.Errorf("failed to wait for pid %d: %w", c.pid, err)
		}
	}
	close(c.done)
}

func (c *Command) kill() error {
	c.killOnce.Do(func() {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.killErr = err
		}
	})
	return c.killErr
}

func exitCodeFromState(state *os.ProcessState) int {
	if status, ok := state.Sys().(syscall.WaitStatus); ok {
		if status.Exited() {
			return status.ExitStatus()
		}
		if status.Signaled() {
			return 128 + int(status.Signal())
		}
	}
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	return 1
}

// tailBuffer keeps the last outputLimit bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - outputLimit; over > 0 {
		b.buf = append(b.buf[:0:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}
