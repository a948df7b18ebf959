package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployconf/pkg/engine"
)

func newGenerateCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "generate <solution-id>",
		Short: "Generate and validate manifests",
		Long: `Synthesize manifests from the answers and validate them, feeding each
rejection back into the next attempt until the manifests pass or the attempt
bound is reached. Every attempt is recorded on the solution.

A run that ends early because a validator or the cluster was unavailable
is reported as retryable.`,
		Example: `  # Generate and print the manifests
  deployconf generate sol_01h...

  # Write the manifests to a file
  deployconf generate sol_01h... --out shop.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.orch.GenerateManifests(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if jsonOutput {
					if err := printJSON(res); err != nil {
						return err
					}
					return res.Err()
				}

				printAttempts(os.Stderr, res.Attempts)
				if res.Status != engine.ResultManifestsGenerated {
					fmt.Fprintf(os.Stderr, "\n✗ Generation failed after %d attempt(s)\n", len(res.Attempts))
					if res.ErrorDetail != "" {
						fmt.Fprintf(os.Stderr, "%s\n", res.ErrorDetail)
					}
					if res.Retryable {
						fmt.Fprintf(os.Stderr, "\nThe failure is temporary; run generate again to retry.\n")
					}
					return res.Err()
				}

				if outFile != "" {
					if err := os.WriteFile(outFile, []byte(res.ManifestText), 0o644); err != nil {
						return fmt.Errorf("failed to write manifests: %w", err)
					}
					fmt.Fprintf(os.Stderr, "\n✓ Manifests written to %s\n", outFile)
					return nil
				}
				fmt.Print(res.ManifestText)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write manifests to file instead of stdout")

	return cmd
}

func newDeployCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "deploy <solution-id>",
		Short: "Deploy generated manifests",
		Long: `Apply the validated manifests of a solution to the cluster and wait for
workloads to roll out. The outcome is stored on the solution; a failed
deployment may be retried.`,
		Example: `  # Deploy with the configured timeout
  deployconf deploy sol_01h...

  # Deploy with a longer rollout timeout
  deployconf deploy sol_01h... --timeout 10m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.orch.DeployManifests(cmd.Context(), args[0], timeout)
				if err != nil {
					return err
				}
				if jsonOutput {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					tw := newTable(os.Stdout)
					fmt.Fprintln(tw, "KIND\tNAME\tNAMESPACE\tSTATUS\tMESSAGE")
					for _, s := range res.ResourceStatuses {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Kind, s.Name, s.Namespace, s.Status, firstLine(s.Message))
					}
					_ = tw.Flush()
				}

				if !res.Deployed {
					return fmt.Errorf("deployment of %s failed: %s", args[0], res.ErrorDetail)
				}
				if !jsonOutput {
					fmt.Printf("\n✓ Solution %s deployed\n", args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "rollout timeout (default from config)")

	return cmd
}
