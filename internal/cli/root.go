package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/perfmerge/internal/cli/generate"
	"github.com/coral-mesh/perfmerge/internal/cli/helpers"
	"github.com/coral-mesh/perfmerge/internal/cli/history"
	"github.com/coral-mesh/perfmerge/internal/config"
	"github.com/coral-mesh/perfmerge/pkg/version"
)

// NewRootCmd builds the perfmerge command tree.
func NewRootCmd() *cobra.Command {
	var flags helpers.GlobalFlags

	rootCmd := &cobra.Command{
		Use:   "perfmerge",
		Short: "perfmerge - merge multi-context profiling telemetry",
		Long: `Aggregate the timing telemetry of several execution contexts (a main
thread and its workers) into one coherent profile.

Inputs are capture bundles: per-context instrumentation records plus an
optional sampled trace of the main context. Outputs are a DevTools call tree,
a speedscope flame chart with one track per context, a pprof profile, or
folded stacks.

Configuration is read from ~/.perfmerge/config.yaml (PERFMERGE_CONFIG
overrides the base directory) and these environment variables:
` + envHelp(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	helpers.AddGlobalFlags(rootCmd.PersistentFlags(), &flags)

	rootCmd.AddCommand(generate.NewGenerateCmd(&flags))
	rootCmd.AddCommand(history.NewHistoryCmd(&flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("perfmerge version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

func envHelp() string {
	var b strings.Builder
	for _, v := range config.EnvVars() {
		fmt.Fprintf(&b, "  %-30s %s\n", v.Name, v.Key)
	}
	return b.String()
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
