package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployconf/pkg/config"
	"github.com/openfroyo/deployconf/pkg/kube"
	"github.com/openfroyo/deployconf/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		server      bool
		environment string
	)

	cmd := &cobra.Command{
		Use:   "validate <manifest-file>",
		Short: "Validate a manifest file",
		Long: `Run a manifest file through the configured validation chain: CUE schemas,
policies, and optionally a server-side dry run. Use "-" to read from stdin.`,
		Example: `  # Validate a manifest
  deployconf validate shop.yaml

  # Include a server-side dry run against the current cluster
  deployconf validate shop.yaml --server

  # Validate as it would be for production
  deployconf validate shop.yaml --environment production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if server {
				cfg.Validation.Server = true
			}
			if environment != "" {
				cfg.Validation.Environment = environment
			}

			policies, err := loadPolicyEngine(cmd, cfg.Policy)
			if err != nil {
				return err
			}
			defer policies.Close()

			kubectl, err := kube.New(cfg.Kube, log.Logger)
			if err != nil {
				return err
			}
			chain, err := buildValidator(cfg.Validation, policies, kubectl, log.Logger)
			if err != nil {
				return err
			}

			log.Info().
				Str("file", args[0]).
				Strs("validators", chain.Steps()).
				Msg("Validating manifest")

			res, err := chain.Validate(cmd.Context(), text)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(res); err != nil {
					return err
				}
			}
			if !res.OK {
				if !jsonOutput {
					fmt.Printf("✗ %s is invalid:\n%s\n", args[0], res.ErrorDetail)
				}
				return fmt.Errorf("manifest validation failed")
			}
			if !jsonOutput {
				fmt.Printf("✓ %s is valid\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&server, "server", false, "include a server-side dry run")
	cmd.Flags().StringVar(&environment, "environment", "", "environment passed to policies")

	return cmd
}

// readInput reads a file, or stdin for "-".
func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// loadPolicyEngine creates a policy engine from the policy section of cfg.
func loadPolicyEngine(cmd *cobra.Command, cfg config.PolicyConfig) (*policy.Engine, error) {
	return newPolicyEngine(cmd.Context(), cfg, log.Logger)
}
