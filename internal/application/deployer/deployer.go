package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/resultchan"
	"github.com/aescanero/flowdeploy/internal/application/subprocess"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/aescanero/flowdeploy/pkg/ports"
	"go.uber.org/zap"
)

const (
	// DefaultFileReadTimeout bounds result channel reads
	DefaultFileReadTimeout = time.Hour
	// DefaultPollInterval is used by the wait loops when no interval is given
	DefaultPollInterval = 5 * time.Second

	// ProfileEnv selects the configuration profile of the child
	ProfileEnv = "FLOWDEPLOY_PROFILE"
	// UserEnv overrides the user the child acts as
	UserEnv = "FLOWDEPLOY_USER"
)

// Options is the configuration of an unbound deployer
type Options struct {
	FlowFile   string
	ShowOutput bool
	Profile    string
	// Env overrides entries of our own environment for every child
	Env map[string]string
	Cwd string
	// FileReadTimeout bounds result reads and child exits
	FileReadTimeout time.Duration
	// TopLevel options are rendered before the backend group
	TopLevel commands.Options
	// Executable is re-invoked as the child; defaults to os.Executable()
	Executable string
	// TempDir holds result channels and synthesized flow files
	TempDir string
	// Metadata is stamped on reconstructed deployments
	Metadata string
	// DefaultImpl is the backend used to reconstruct deployments
	DefaultImpl string
}

// Dependencies are the collaborators shared by every handle of a deployer.
// All of them are optional.
type Dependencies struct {
	Runs    ports.RunSource
	Store   ports.DeploymentStore
	Events  ports.EventBus
	Metrics ports.MetricsCollector
}

// Deployer is an unbound deployer
type Deployer struct {
	opts     Options
	registry *Registry
	deps     Dependencies
	logger   *zap.Logger
}

// New creates a new deployer
func New(opts Options, registry *Registry, deps Dependencies, logger *zap.Logger) (*Deployer, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		opts.Executable = exe
	}
	if opts.FileReadTimeout <= 0 {
		opts.FileReadTimeout = DefaultFileReadTimeout
	}
	opts.Env = copyEnv(opts.Env)
	opts.TopLevel = copyOptions(opts.TopLevel)

	return &Deployer{
		opts:     opts,
		registry: registry,
		deps:     deps,
		logger:   logger,
	}, nil
}

// Options returns a copy of the deployer's configuration
func (d *Deployer) Options() Options {
	opts := d.opts
	opts.Env = copyEnv(d.opts.Env)
	opts.TopLevel = copyOptions(d.opts.TopLevel)
	return opts
}

// Bind selects a backend. Unknown or empty types fail before anything runs.
func (d *Deployer) Bind(backendType string, deployerOpts commands.Options) (*Impl, error) {
	provider, err := d.registry.Lookup(backendType)
	if err != nil {
		return nil, err
	}

	deployerOpts = copyOptions(deployerOpts)
	api := commands.API{Executable: d.opts.Executable, FlowFile: d.opts.FlowFile}
	impl := &Impl{
		deployer:     d,
		provider:     provider,
		deployerOpts: deployerOpts,
		group:        provider.group(api, d.opts.TopLevel, deployerOpts),
		runner:       subprocess.NewManager(d.deps.Metrics, d.logger),
		env:          d.environ(),
		logger:       d.logger.With(zap.String("backend", provider.Type)),
	}
	if name, ok := deployerOpts["name"].(string); ok {
		impl.name = name
	}
	return impl, nil
}

func (d *Deployer) environ() []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range d.opts.Env {
		env[k] = v
	}
	if d.opts.Profile != "" {
		env[ProfileEnv] = d.opts.Profile
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

type channelKind int

const (
	noChannel channelKind = iota
	fileChannel
	pipeChannel
)

// Impl is a deployer bound to a backend. It runs one child at a time.
type Impl struct {
	deployer     *Deployer
	provider     Provider
	deployerOpts commands.Options
	group        *commands.Group
	runner       *subprocess.Manager
	env          []string
	logger       *zap.Logger

	mu         sync.Mutex
	closed     bool
	name       string
	ownedFiles []string
}

// Type returns the backend type
func (i *Impl) Type() string { return i.provider.Type }

// ActiveProcesses returns the number of children still tracked
func (i *Impl) ActiveProcesses() int { return i.runner.Len() }

// Close kills any remaining children and removes files the Impl owns.
// Safe to call repeatedly.
func (i *Impl) Close() error {
	// killing first unblocks an invocation that is still waiting on its child
	i.runner.Cleanup()

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true

	var errs []error
	for _, path := range i.ownedFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	i.ownedFiles = nil
	return errors.Join(errs...)
}

func (i *Impl) own(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ownedFiles = append(i.ownedFiles, path)
}

// invoke runs verb in a child and returns its payload, if any
func (i *Impl) invoke(ctx context.Context, verb commands.Verb, opts commands.Options, kind channelKind) ([]byte, error) {
	if !i.provider.Supports(verb) {
		return nil, fmt.Errorf("%w: %s does not implement %s", ErrUnsupported, i.provider.Type, verb)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrClosed
	}

	timeout := i.deployer.opts.FileReadTimeout
	opts = copyOptions(opts)

	var ch resultchan.Channel
	var err error
	switch kind {
	case fileChannel:
		ch, err = resultchan.NewFile(i.deployer.opts.TempDir)
	case pipeChannel:
		ch, err = resultchan.NewPipe(i.deployer.opts.TempDir)
	}
	if err != nil {
		return nil, i.fail(verb, -1, "", err)
	}
	if ch != nil {
		defer ch.Close()
		opts[commands.AttributeFileFlag] = ch.Path()
	}

	argv := i.group.Command(verb, opts)
	start := time.Now()
	pid, err := i.runner.Run(ctx, argv, subprocess.RunOptions{
		Env:        i.env,
		Dir:        i.deployer.opts.Cwd,
		ShowOutput: i.deployer.opts.ShowOutput,
	})
	if err != nil {
		i.record(verb, "error", start)
		return nil, i.fail(verb, -1, "", err)
	}
	defer i.runner.Release(pid)

	cmd, _ := i.runner.Get(pid)
	logger := i.logger.With(zap.String("verb", string(verb)), zap.Int("pid", pid))
	logger.Debug("invoked child")

	var payload []byte
	if ch != nil {
		payload, err = ch.Read(ctx, cmd, timeout)
		if err != nil {
			var noPayload *resultchan.NoPayloadError
			switch {
			case errors.As(err, &noPayload) && noPayload.ExitCode != 0:
				// the exit code explains the missing payload
				err = fmt.Errorf("%w with exit code %d", ErrProcessFailed, noPayload.ExitCode)
				i.record(verb, "failure", start)
				return nil, i.fail(verb, noPayload.ExitCode, string(cmd.Stderr()), err)
			case errors.Is(err, domain.ErrTimeout):
				i.recordTimeout(verb)
				i.record(verb, "timeout", start)
				logger.Warn("no result before timeout, killing child", zap.Duration("timeout", timeout))
			default:
				i.record(verb, "failure", start)
			}
			return nil, i.fail(verb, cmd.ExitCode(), string(cmd.Stderr()), err)
		}
	}

	code, err := cmd.Wait(ctx, timeout)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			i.recordTimeout(verb)
			i.record(verb, "timeout", start)
		} else {
			i.record(verb, "failure", start)
		}
		return nil, i.fail(verb, code, string(cmd.Stderr()), err)
	}
	if code != 0 {
		i.record(verb, "failure", start)
		return nil, i.fail(verb, code, string(cmd.Stderr()),
			fmt.Errorf("%w with exit code %d", ErrProcessFailed, code))
	}

	i.record(verb, "success", start)
	logger.Debug("child finished", zap.Duration("duration", time.Since(start)))
	return payload, nil
}

// invokeStatus runs a verb that reports success only through its exit code
func (i *Impl) invokeStatus(ctx context.Context, verb commands.Verb, opts commands.Options) (bool, error) {
	_, err := i.invoke(ctx, verb, opts, noChannel)
	if err == nil {
		return true, nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) && errors.Is(err, ErrProcessFailed) {
		i.logger.Info("operation rejected",
			zap.String("verb", string(verb)),
			zap.Int("exit_code", opErr.ExitCode))
		return false, nil
	}
	return false, err
}

func (i *Impl) fail(verb commands.Verb, code int, stderr string, err error) error {
	return &OperationError{
		Verb:     verb,
		Name:     i.name,
		Backend:  i.provider.Type,
		FlowFile: i.deployer.opts.FlowFile,
		ExitCode: code,
		Stderr:   stderr,
		Err:      err,
	}
}

func (i *Impl) record(verb commands.Verb, outcome string, start time.Time) {
	if m := i.deployer.deps.Metrics; m != nil {
		m.RecordInvocation(i.provider.Type, string(verb), outcome, time.Since(start))
	}
}

func (i *Impl) recordTimeout(verb commands.Verb) {
	if m := i.deployer.deps.Metrics; m != nil {
		m.RecordResultTimeout(i.provider.Type, string(verb))
	}
}

func (i *Impl) publish(ctx context.Context, topic string, event domain.Event) {
	bus := i.deployer.deps.Events
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, topic, event); err != nil {
		i.logger.Error("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func copyOptions(opts commands.Options) commands.Options {
	out := make(commands.Options, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	return out
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
