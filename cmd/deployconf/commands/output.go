package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/deployconf/pkg/engine"
)

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printQuestions renders the questions of a stage.
func printQuestions(w io.Writer, stage engine.Stage, questions []engine.Question) {
	if len(questions) == 0 {
		fmt.Fprintf(w, "Stage %s has no questions; submit an empty answer set to continue.\n", stage)
		return
	}
	fmt.Fprintf(w, "Stage %s questions:\n", stage)
	for _, q := range questions {
		marker := " "
		if q.Required {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %-18s %-8s %s\n", marker, q.ID, q.Type, q.Prompt)
		if len(q.Options) > 0 {
			fmt.Fprintf(w, "      options: %s\n", strings.Join(q.Options, ", "))
		}
		if q.Default != nil {
			fmt.Fprintf(w, "      default: %s\n", q.Default.String())
		}
	}
	fmt.Fprintln(w, "  (* = mandatory)")
}

// printRecord renders a solution summary.
func printRecord(w io.Writer, rec *engine.SolutionRecord) {
	fmt.Fprintf(w, "Solution:  %s\n", rec.ID)
	if rec.Intent != "" {
		fmt.Fprintf(w, "Intent:    %s\n", rec.Intent)
	}
	fmt.Fprintf(w, "Status:    %s\n", rec.Status)
	fmt.Fprintf(w, "Stage:     %s\n", rec.CurrentStage)
	fmt.Fprintf(w, "Version:   %d\n", rec.Version)
	fmt.Fprintf(w, "Updated:   %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintln(w, "Resources:")
	for _, r := range rec.Resources {
		scope := "namespaced"
		if !r.Namespaced {
			scope = "cluster"
		}
		fmt.Fprintf(w, "  - %s %s (%s)\n", r.APIVersion(), r.Kind, scope)
	}

	if len(rec.CompletedStages) > 0 {
		fmt.Fprintln(w, "Answers:")
		for _, stage := range rec.CompletedStages {
			answers := rec.StageAnswers[stage]
			if len(answers) == 0 {
				fmt.Fprintf(w, "  %s: (skipped)\n", stage)
				continue
			}
			fmt.Fprintf(w, "  %s:\n", stage)
			for _, id := range sortedKeys(answers) {
				fmt.Fprintf(w, "    %s = %s\n", id, answerString(answers[id]))
			}
		}
	}

	if n := len(rec.ValidationAttempts); n > 0 {
		last := rec.ValidationAttempts[n-1]
		fmt.Fprintf(w, "Attempts:  %d (generation %d, last %s)\n", n, rec.Generation, last.Outcome)
	}
	if rec.Deployment != nil {
		fmt.Fprintf(w, "Deployed:  %t at %s\n", rec.Deployment.Deployed, rec.Deployment.DeployedAt.Format("2006-01-02 15:04:05"))
	}
}

// printAttempts renders the validation attempts of a generation run.
func printAttempts(w io.Writer, attempts []engine.ValidationAttempt) {
	if len(attempts) == 0 {
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "GEN\tATTEMPT\tOUTCOME\tDETAIL")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", a.Generation, a.AttemptNumber, a.Outcome, firstLine(a.ErrorDetail))
	}
	_ = tw.Flush()
}

func answerString(v *engine.AnswerValue) string {
	if v == nil {
		return "(skipped)"
	}
	return v.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
