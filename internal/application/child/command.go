package child

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/resultchan"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/aescanero/flowdeploy/pkg/ports"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InvocationFunc loads the flow named on the command line. deployment is
// the explicit --name, empty when the name should be derived.
type InvocationFunc func(deployment string) (*Invocation, error)

// Options configures the commands of a backend
type Options struct {
	Load InvocationFunc
	// Packager uploads the flow source on create; optional
	Packager ports.CodePackager
	Out      io.Writer
	Logger   *zap.Logger
}

// NewBackendCommand returns the command group of a backend with one
// sub-command per verb the backend implements
func NewBackendCommand(b Backend, opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	var name string
	cmd := &cobra.Command{
		Use:   b.Name,
		Short: fmt.Sprintf("Manage deployments on %s", b.Name),
		FParseErrWhitelist: cobra.FParseErrWhitelist{
			UnknownFlags: true,
		},
	}
	cmd.PersistentFlags().StringVar(&name, "name", "", "deployment name, derived from the flow when empty")

	g := &group{backend: b, opts: opts, name: &name}
	for _, verb := range b.Verbs {
		var sub *cobra.Command
		switch verb {
		case commands.VerbCreate:
			sub = g.createCommand()
		case commands.VerbTrigger:
			sub = g.triggerCommand()
		case commands.VerbSuspend:
			sub = g.runCommand(verb, "Suspend a run", b.Executor.Suspend)
		case commands.VerbUnsuspend:
			sub = g.runCommand(verb, "Resume a suspended run", b.Executor.Unsuspend)
		case commands.VerbTerminate:
			sub = g.runCommand(verb, "Terminate a run", b.Executor.Terminate)
		case commands.VerbDelete:
			sub = g.deleteCommand()
		case commands.VerbListRuns:
			sub = g.listRunsCommand()
		default:
			continue
		}
		sub.FParseErrWhitelist = cobra.FParseErrWhitelist{UnknownFlags: true}
		cmd.AddCommand(sub)
	}
	return cmd
}

type group struct {
	backend Backend
	opts    Options
	name    *string
}

func (g *group) logger() *zap.Logger {
	if g.opts.Logger == nil {
		return zap.NewNop()
	}
	return g.opts.Logger
}

func (g *group) load() (*Invocation, error) {
	return g.opts.Load(*g.name)
}

func attributeFileFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, commands.AttributeFileFlag, "", "write the result of the command to this channel")
}

func writeResult(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	return resultchan.WriteResult(path, v)
}

func (g *group) createCommand() *cobra.Command {
	var (
		attrFile  string
		authorize string
		newToken  bool
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   string(commands.VerbCreate),
		Short: "Deploy the flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := g.load()
			if err != nil {
				return err
			}
			req := CreateRequest{
				Invocation:       inv,
				Authorize:        authorize,
				GenerateNewToken: newToken,
				Tags:             tags,
			}

			if g.opts.Packager != nil {
				contents, err := os.ReadFile(inv.FlowFile)
				if err != nil {
					return fmt.Errorf("failed to read flow file: %w", err)
				}
				url, err := g.opts.Packager.Upload(cmd.Context(), inv.Flow.Name, contents)
				if err != nil {
					return fmt.Errorf("failed to upload code package: %w", err)
				}
				req.CodePackage = url
			}

			result, err := g.backend.Executor.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			g.logger().Info("deployed flow",
				zap.String("backend", g.backend.Name),
				zap.String("deployment", result.Name),
				zap.String("flow_name", result.FlowName))
			fmt.Fprintf(g.opts.Out, "Deployed %s to %s as %s\n", result.FlowName, g.backend.Name, result.Name)
			return writeResult(attrFile, result)
		},
	}
	attributeFileFlag(cmd, &attrFile)
	cmd.Flags().StringVar(&authorize, "authorize", "", "production token of a deployment owned by somebody else")
	cmd.Flags().BoolVar(&newToken, "generate-new-token", false, "issue a new production token")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag to attach to runs (repeatable)")
	return cmd
}

func (g *group) triggerCommand() *cobra.Command {
	var (
		attrFile string
		params   []string
	)
	cmd := &cobra.Command{
		Use:   string(commands.VerbTrigger),
		Short: "Start a run of the deployed flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			inv, err := g.load()
			if err != nil {
				return err
			}
			result, err := g.backend.Executor.Trigger(cmd.Context(), TriggerRequest{Invocation: inv, Params: parsed})
			if err != nil {
				return err
			}
			g.logger().Info("triggered run",
				zap.String("backend", g.backend.Name),
				zap.String("pathspec", result.Pathspec))
			fmt.Fprintf(g.opts.Out, "Triggered %s\n", result.Pathspec)
			return writeResult(attrFile, result)
		},
	}
	attributeFileFlag(cmd, &attrFile)
	cmd.Flags().StringArrayVar(&params, "run-param", nil, "parameter as name=value (repeatable)")
	return cmd
}

func (g *group) runCommand(verb commands.Verb, short string, op func(ctx context.Context, req RunRequest) error) *cobra.Command {
	var (
		runID     string
		authorize string
	)
	cmd := &cobra.Command{
		Use:   string(verb),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run-id is required")
			}
			inv, err := g.load()
			if err != nil {
				return err
			}
			if err := op(cmd.Context(), RunRequest{Invocation: inv, RunID: runID, Authorize: authorize}); err != nil {
				return err
			}
			g.logger().Info("run updated",
				zap.String("backend", g.backend.Name),
				zap.String("verb", string(verb)),
				zap.String("run_id", runID))
			fmt.Fprintf(g.opts.Out, "Requested %s of %s\n", verb, runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id from the pathspec")
	cmd.Flags().StringVar(&authorize, "authorize", "", "production token of the deployment")
	return cmd
}

func (g *group) deleteCommand() *cobra.Command {
	var authorize string
	cmd := &cobra.Command{
		Use:   string(commands.VerbDelete),
		Short: "Remove the deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := g.load()
			if err != nil {
				return err
			}
			if err := g.backend.Executor.Delete(cmd.Context(), DeleteRequest{Invocation: inv, Authorize: authorize}); err != nil {
				return err
			}
			fmt.Fprintf(g.opts.Out, "Deleted %s from %s\n", inv.Deployment, g.backend.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&authorize, "authorize", "", "production token of the deployment")
	return cmd
}

func (g *group) listRunsCommand() *cobra.Command {
	var states []string
	cmd := &cobra.Command{
		Use:   string(commands.VerbListRuns),
		Short: "List runs of the deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := g.load()
			if err != nil {
				return err
			}
			req := ListRunsRequest{Invocation: inv}
			for _, s := range states {
				req.States = append(req.States, domain.RunStatus(s))
			}
			runs, err := g.backend.Executor.ListRuns(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprint(g.opts.Out, RenderRuns(inv.Deployment, runs))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&states, "state", nil, "only runs in this state (repeatable)")
	return cmd
}

func parseParams(params []string) (map[string]string, error) {
	parsed := make(map[string]string, len(params))
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", p)
		}
		parsed[name] = value
	}
	return parsed, nil
}
