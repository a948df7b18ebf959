package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployconf/pkg/config"
	"github.com/openfroyo/deployconf/pkg/manifest"
	"github.com/openfroyo/deployconf/pkg/policy"
	"github.com/openfroyo/deployconf/pkg/telemetry"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy management",
		Long: `Inspect and test the Rego policies used for manifest validation and
question enrichment.

Built-in policies are always loaded. Custom policies are read from the
paths in the policy section of the config, or from --path.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyShowCommand())
	cmd.AddCommand(newPolicyCheckCommand())
	cmd.AddCommand(newPolicyWatchCommand())

	return cmd
}

// policySettings loads the config with --path, when given, replacing the
// configured policy paths.
func policySettings(flagPaths []string) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if len(flagPaths) > 0 {
		cfg.Policy.Paths = flagPaths
	}
	return cfg, nil
}

func newPolicyListCommand() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := policySettings(paths)
			if err != nil {
				return err
			}
			policies, err := loadPolicyEngine(cmd, cfg.Policy)
			if err != nil {
				return err
			}
			defer policies.Close()

			list := policies.ListPolicies()
			if jsonOutput {
				return printJSON(list)
			}
			tw := newTable(os.Stdout)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range list {
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, source, p.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "policy files or directories")

	return cmd
}

func newPolicyShowCommand() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one policy and its Rego source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := policySettings(paths)
			if err != nil {
				return err
			}
			policies, err := loadPolicyEngine(cmd, cfg.Policy)
			if err != nil {
				return err
			}
			defer policies.Close()

			p, err := policies.GetPolicy(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(p)
			}
			source := p.Source
			if p.Builtin {
				source = "builtin"
			}
			fmt.Printf("Name:        %s\n", p.Name)
			fmt.Printf("Description: %s\n", p.Description)
			fmt.Printf("Severity:    %s\n", p.Severity)
			fmt.Printf("Enabled:     %t\n", p.Enabled)
			fmt.Printf("Source:      %s\n", source)
			if len(p.Tags) > 0 {
				fmt.Printf("Tags:        %s\n", strings.Join(p.Tags, ", "))
			}
			fmt.Printf("\n%s\n", strings.TrimSpace(p.Rego))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "policy files or directories")

	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		paths       []string
		environment string
		namespace   string
	)

	cmd := &cobra.Command{
		Use:   "check <manifest-file>",
		Short: "Evaluate policies against a manifest",
		Example: `  # Check a manifest against built-in and configured policies
  deployconf policy check shop.yaml

  # Check with custom policies for production
  deployconf policy check shop.yaml --path ./policies --environment production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0])
			if err != nil {
				return err
			}
			docs, err := manifest.Decode(text)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", args[0], err)
			}

			cfg, err := policySettings(paths)
			if err != nil {
				return err
			}
			policies, err := loadPolicyEngine(cmd, cfg.Policy)
			if err != nil {
				return err
			}
			defer policies.Close()

			result, err := policies.Evaluate(cmd.Context(), docs, &policy.Context{
				Environment: environment,
				Namespace:   namespace,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				printViolations("Violations", result.Violations)
				printViolations("Warnings", result.Warnings)
				fmt.Printf("Evaluated %d policies over %d documents in %s\n",
					len(result.EvaluatedPolicies), result.Documents, result.Duration)
			}
			if !result.Allowed {
				return fmt.Errorf("manifest violates %d policies", countPolicies(result.Violations))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "policy files or directories")
	cmd.Flags().StringVar(&environment, "environment", "", "environment passed to policies")
	cmd.Flags().StringVar(&namespace, "namespace", "", "target namespace passed to policies")

	return cmd
}

func newPolicyWatchCommand() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch policy files and report reloads",
		Long: `Load the custom policies and reload them whenever a file changes, reporting
each reload. Useful while writing policies. Stops on interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := policySettings(paths)
			if err != nil {
				return err
			}
			resolved := cfg.Policy.Paths
			if len(resolved) == 0 {
				return fmt.Errorf("no policy paths configured (use --path)")
			}

			tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(ctx)
			}()
			if err := tel.StartMetricsServer(); err != nil {
				return err
			}

			policies, err := loadPolicyEngine(cmd, cfg.Policy)
			if err != nil {
				return err
			}
			defer policies.Close()

			ctx := cmd.Context()
			err = policies.Watch(ctx, resolved, func(err error, took time.Duration) {
				status := "ok"
				if err != nil {
					status = "error"
				}
				tel.Metrics.RecordOperation("policy_reload", status, took)
				if err != nil {
					fmt.Printf("✗ Reload failed: %v\n", err)
					return
				}
				fmt.Printf("✓ Reloaded %d policies\n", len(policies.ListPolicies()))
			})
			if err != nil {
				return err
			}

			log.Info().Strs("paths", resolved).Msg("Watching policies")
			if addr := tel.Metrics.Addr(); addr != "" {
				log.Info().Str("address", addr).Msg("Serving metrics")
			}
			fmt.Printf("Watching %s (Ctrl+C to stop)\n", strings.Join(resolved, ", "))
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "policy files or directories")

	return cmd
}

func printViolations(title string, violations []policy.Violation) {
	if len(violations) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for _, v := range violations {
		target := v.Kind
		if v.Name != "" {
			target += "/" + v.Name
		}
		field := ""
		if v.Field != "" {
			field = " " + v.Field
		}
		fmt.Printf("  [%s] %s (document %d %s%s): %s\n", v.Severity, v.Policy, v.Index, target, field, v.Message)
	}
	fmt.Println()
}

func countPolicies(violations []policy.Violation) int {
	seen := make(map[string]bool)
	for _, v := range violations {
		seen[v.Policy] = true
	}
	return len(seen)
}
