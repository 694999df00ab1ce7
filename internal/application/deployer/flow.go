package deployer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeployedFlow is a flow registered with an orchestrator
type DeployedFlow struct {
	impl *Impl

	Name           string
	FlowName       string
	Metadata       string
	AdditionalInfo map[string]interface{}
	// Parameters is only known for reconstructed deployments
	Parameters []domain.Parameter
}

// Create registers the flow with the orchestrator
func (i *Impl) Create(ctx context.Context, opts commands.Options) (*DeployedFlow, error) {
	data, err := i.invoke(ctx, commands.VerbCreate, opts, fileChannel)
	if err != nil {
		return nil, err
	}
	p, err := decodePayload(data)
	if err != nil {
		return nil, i.fail(commands.VerbCreate, 0, "", err)
	}

	flow := &DeployedFlow{
		impl:           i,
		Name:           p.str("name"),
		FlowName:       p.str("flow_name"),
		Metadata:       p.str("metadata"),
		AdditionalInfo: p.object("additional_info"),
	}

	i.mu.Lock()
	i.name = flow.Name
	i.mu.Unlock()

	i.logger.Info("deployment created",
		zap.String("deployment", flow.Name),
		zap.String("flow_name", flow.FlowName))

	if store := i.deployer.deps.Store; store != nil {
		record := &domain.DeploymentRecord{
			Name:           flow.Name,
			FlowName:       flow.FlowName,
			Backend:        i.provider.Type,
			FlowFile:       i.deployer.opts.FlowFile,
			Metadata:       flow.Metadata,
			AdditionalInfo: flow.AdditionalInfo,
			CreatedAt:      time.Now().UTC(),
		}
		if err := store.SaveDeployment(ctx, record); err != nil {
			i.logger.Error("failed to save deployment record",
				zap.String("deployment", flow.Name),
				zap.Error(err))
		}
	}
	i.publish(ctx, domain.TopicDeployments, flow.event(domain.EventTypeDeploymentCreated, ""))

	return flow, nil
}

// Impl returns the bound deployer the flow belongs to
func (f *DeployedFlow) Impl() *Impl { return f.impl }

// Close releases the bound deployer
func (f *DeployedFlow) Close() error { return f.impl.Close() }

// Trigger starts a new run. Every call uses its own result channel. Option
// keys other than run_param are run parameters of the same name.
func (f *DeployedFlow) Trigger(ctx context.Context, opts commands.Options) (*TriggeredRun, error) {
	opts, err := triggerOptions(opts)
	if err != nil {
		return nil, f.impl.fail(commands.VerbTrigger, -1, "", err)
	}
	data, err := f.impl.invoke(ctx, commands.VerbTrigger, opts, pipeChannel)
	if err != nil {
		return nil, err
	}
	p, err := decodePayload(data)
	if err != nil {
		return nil, f.impl.fail(commands.VerbTrigger, 0, "", err)
	}

	run, err := newTriggeredRun(f, p.str("pathspec"), p.str("name"), p.str("metadata"))
	if err != nil {
		return nil, f.impl.fail(commands.VerbTrigger, 0, "", err)
	}

	f.impl.logger.Info("run triggered",
		zap.String("deployment", f.Name),
		zap.String("pathspec", run.Pathspec))

	if store := f.impl.deployer.deps.Store; store != nil {
		record := &domain.RunRecord{
			Pathspec:    run.Pathspec,
			Name:        run.Name,
			Deployment:  f.Name,
			Backend:     f.impl.provider.Type,
			Metadata:    run.Metadata,
			TriggeredAt: time.Now().UTC(),
		}
		if err := store.SaveRun(ctx, record); err != nil {
			f.impl.logger.Error("failed to save run record",
				zap.String("pathspec", run.Pathspec),
				zap.Error(err))
		}
	}
	f.impl.publish(ctx, domain.TopicRuns, f.event(domain.EventTypeRunTriggered, run.Pathspec))

	return run, nil
}

// runParamKey is the only option the trigger verb takes itself
const runParamKey = "run_param"

// triggerOptions folds parameters given under their own names into
// run_param, so the child sees every one of them as --run-param=name=value
func triggerOptions(opts commands.Options) (commands.Options, error) {
	params := make(map[string]string)

	switch v := opts[runParamKey].(type) {
	case nil:
	case map[string]string:
		for name, value := range v {
			params[name] = value
		}
	case map[string]interface{}:
		for name, value := range v {
			s, err := paramValue(value)
			if err != nil {
				return nil, fmt.Errorf("invalid value for parameter %q: %w", name, err)
			}
			params[name] = s
		}
	case []string:
		for _, kv := range v {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || name == "" {
				return nil, fmt.Errorf("invalid parameter %q, expected name=value", kv)
			}
			params[name] = value
		}
	case string:
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", v)
		}
		params[name] = value
	default:
		return nil, fmt.Errorf("unsupported %s value of type %T", runParamKey, v)
	}

	for key, value := range opts {
		if key == runParamKey || value == nil {
			continue
		}
		s, err := paramValue(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for parameter %q: %w", key, err)
		}
		params[key] = s
	}

	if len(params) == 0 {
		return commands.Options{}, nil
	}
	return commands.Options{runParamKey: params}, nil
}

// paramValue renders scalars as text and everything else as JSON
func paramValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Delete removes the deployment. True means the child exited with 0.
func (f *DeployedFlow) Delete(ctx context.Context, opts commands.Options) (bool, error) {
	ok, err := f.impl.invokeStatus(ctx, commands.VerbDelete, opts)
	if err != nil || !ok {
		return ok, err
	}

	if store := f.impl.deployer.deps.Store; store != nil {
		if err := store.DeleteDeployment(ctx, f.Name); err != nil {
			f.impl.logger.Error("failed to delete deployment record",
				zap.String("deployment", f.Name),
				zap.Error(err))
		}
	}
	f.impl.publish(ctx, domain.TopicDeployments, f.event(domain.EventTypeDeploymentDeleted, ""))
	return true, nil
}

// ListRuns prints the deployment's runs through the child
func (f *DeployedFlow) ListRuns(ctx context.Context, opts commands.Options) (bool, error) {
	return f.impl.invokeStatus(ctx, commands.VerbListRuns, opts)
}

// ProductionToken looks the token up on the orchestrator. Empty when the
// deployment no longer exists.
func (f *DeployedFlow) ProductionToken(ctx context.Context) (string, error) {
	lookup := f.impl.provider.ProductionToken
	if lookup == nil {
		return "", fmt.Errorf("%w: %s has no production tokens", ErrUnsupported, f.impl.provider.Type)
	}
	token, err := lookup(ctx, f.Name)
	if err != nil {
		return "", fmt.Errorf("failed to get production token: %w", err)
	}
	return token, nil
}

func (f *DeployedFlow) event(eventType domain.EventType, pathspec string) domain.Event {
	return domain.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Backend:    f.impl.provider.Type,
		Deployment: f.Name,
		Pathspec:   pathspec,
		Timestamp:  time.Now().UTC(),
		Data: map[string]interface{}{
			"flow_name": f.FlowName,
		},
	}
}
