package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployconf/pkg/engine"
)

func newShowCommand() *cobra.Command {
	var (
		showManifest bool
		showAttempts bool
	)

	cmd := &cobra.Command{
		Use:   "show <solution-id>",
		Short: "Show a solution",
		Example: `  # Show progress and answers
  deployconf show sol_01h...

  # Print the stored manifests
  deployconf show sol_01h... --manifest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				rec, err := a.orch.GetSolution(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(rec)
				}
				if showManifest {
					if rec.ManifestText == "" {
						return fmt.Errorf("solution %s has no manifests", rec.ID)
					}
					fmt.Print(rec.ManifestText)
					return nil
				}
				printRecord(os.Stdout, rec)
				if showAttempts {
					fmt.Println()
					printAttempts(os.Stdout, rec.ValidationAttempts)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showManifest, "manifest", false, "print the stored manifests only")
	cmd.Flags().BoolVar(&showAttempts, "attempts", false, "include validation attempts")

	return cmd
}

func newListCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List solutions",
		Example: `  # List recent solutions
  deployconf list

  # List solutions waiting for generation
  deployconf list --status ready_for_generation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := engine.SolutionFilter{Limit: limit, Offset: offset}
			if status != "" {
				filter.Status = engine.Status(status)
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}

			return withApp(cmd.Context(), func(a *app) error {
				recs, err := a.orch.ListSolutions(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(recs)
				}
				if len(recs) == 0 {
					fmt.Println("No solutions found")
					return nil
				}
				tw := newTable(os.Stdout)
				fmt.Fprintln(tw, "ID\tSTATUS\tSTAGE\tRESOURCES\tUPDATED")
				for _, rec := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						rec.ID, rec.Status, rec.CurrentStage, len(rec.Resources),
						rec.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of solutions")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of solutions to skip")

	return cmd
}

func newAuditCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit <solution-id>",
		Short: "Show the audit trail of a solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				entries, err := a.store.ListAudit(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(entries)
				}
				if len(entries) == 0 {
					fmt.Printf("No audit entries for %s\n", args[0])
					return nil
				}
				tw := newTable(os.Stdout)
				fmt.Fprintln(tw, "TIME\tVERSION\tACTION\tSTATUS\tSTAGE\tDETAILS")
				for _, e := range entries {
					details := ""
					if e.Details != nil {
						details = *e.Details
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
						e.Timestamp.Format("2006-01-02 15:04:05"), e.Version, e.Action, e.Status, e.Stage, details)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (0 uses the store default)")

	return cmd
}
