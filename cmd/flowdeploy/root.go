package main

import (
	"fmt"

	"github.com/aescanero/flowdeploy/internal/application/child"
	"github.com/aescanero/flowdeploy/internal/application/flowspec"
	"github.com/aescanero/flowdeploy/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootFlags are the top-level options shared by every backend
type rootFlags struct {
	flowFile   string
	branch     string
	production bool
}

func newRootCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "flowdeploy",
		Short:         "Deploy flows to workflow orchestrators",
		SilenceUsage:  true,
		SilenceErrors: true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{
			UnknownFlags: true,
		},
	}
	cmd.PersistentFlags().StringVar(&flags.flowFile, "flow-file", "flow.yaml", "flow definition file")
	cmd.PersistentFlags().StringVar(&flags.branch, "branch", "", "project branch to deploy to")
	cmd.PersistentFlags().BoolVar(&flags.production, "production", false, "deploy to the production branch")

	opts := child.Options{
		Load:   flags.invocation,
		Logger: logger,
	}
	if cfg.S3Enabled() {
		opts.Packager = &lazyPackager{cfg: cfg.S3, logger: logger}
	}

	cmd.AddCommand(
		child.NewBackendCommand(argoBackend(cfg, logger), opts),
		child.NewBackendCommand(stepFunctionsBackend(cfg, logger), opts),
		newServeCommand(cfg, logger),
		newVersionCommand(),
	)
	return cmd
}

// invocation loads the flow file and derives the deployment name unless
// one was given
func (f *rootFlags) invocation(deployment string) (*child.Invocation, error) {
	flow, err := flowspec.Load(f.flowFile)
	if err != nil {
		return nil, err
	}
	inv := &child.Invocation{
		FlowFile: f.flowFile,
		Flow:     flow,
		Project:  flowspec.ProjectOptions{Production: f.production, Branch: f.branch},
		User:     child.CurrentUser(),
	}
	inv.Deployment = deployment
	if inv.Deployment == "" {
		inv.Deployment = flowspec.DeploymentName(flow, inv.Project, inv.User)
	}
	return inv, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowdeploy %s (built %s)\n", Version, BuildTime)
		},
	}
}
