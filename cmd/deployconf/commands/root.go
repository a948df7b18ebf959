package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// defaultConfigPath is used when --config is not given and the file exists.
const defaultConfigPath = "./deployconf.yaml"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployconf",
		Short: "deployconf - Deployment Configuration Orchestrator",
		Long: `deployconf guides a selected deployment solution through staged
configuration to a validated manifest set, and optionally deploys it.

Workflow:
  1. register   hand over a solution (intent + resource kinds)
  2. choose     start configuration and get the first questions
  3. answer     answer one stage at a time (required, basic, advanced, open)
  4. generate   synthesize and validate manifests with bounded retries
  5. deploy     apply the generated manifests to the cluster

Progress is persisted after every step, so work resumes across restarts.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./deployconf.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newRegisterCommand())
	rootCmd.AddCommand(newChooseCommand())
	rootCmd.AddCommand(newAnswerCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
