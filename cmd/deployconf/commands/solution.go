package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployconf/pkg/engine"
)

func newRegisterCommand() *cobra.Command {
	var (
		id        string
		intent    string
		resources []string
		file      string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a selected solution",
		Long: `Register a recommended solution so it can be configured.

A solution is a set of resource kinds chosen for an intent. Resources are
given as group/version/Kind, version/Kind, or a well-known bare Kind such as
Deployment or Service. A YAML file with id, intent and resources may be used
instead; flags override the file.`,
		Example: `  # Register a web application
  deployconf register --intent "public web shop" --resource Deployment --resource Service --resource Ingress

  # Register with an explicit id and a custom resource
  deployconf register --id shop --resource apps/v1/StatefulSet --resource monitoring.coreos.com/v1/ServiceMonitor

  # Register from a file
  deployconf register -f solution.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.RegisterRequest{SolutionID: id, Intent: intent}
			if file != "" {
				sf, err := loadSolutionFile(file)
				if err != nil {
					return err
				}
				if req.SolutionID == "" {
					req.SolutionID = sf.ID
				}
				if req.Intent == "" {
					req.Intent = sf.Intent
				}
				req.Resources = sf.Resources
			}
			for _, r := range resources {
				ref, err := parseResourceRef(r)
				if err != nil {
					return err
				}
				req.Resources = append(req.Resources, ref)
			}
			if len(req.Resources) == 0 {
				return fmt.Errorf("at least one --resource is required")
			}

			return withApp(cmd.Context(), func(a *app) error {
				rec, err := a.orch.RegisterSolution(cmd.Context(), req)
				if err != nil {
					return err
				}
				log.Debug().Str("solution_id", rec.ID).Msg("Solution registered")

				if jsonOutput {
					return printJSON(rec)
				}
				fmt.Printf("✓ Registered solution %s\n", rec.ID)
				fmt.Printf("\nNext: deployconf choose %s\n", rec.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "solution id (generated when empty)")
	cmd.Flags().StringVar(&intent, "intent", "", "deployment intent")
	cmd.Flags().StringArrayVarP(&resources, "resource", "r", nil, "resource kind (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with id, intent and resources")

	return cmd
}

func newChooseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "choose <solution-id>",
		Short: "Start configuring a solution",
		Long: `Mark a registered solution as chosen and show the questions of its
current stage. Choosing an already configured solution shows where it left off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.orch.ChooseSolution(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				fmt.Printf("Solution %s is %s\n\n", res.SolutionID, res.Status)
				printQuestions(os.Stdout, res.Stage, res.Questions)
				return nil
			})
		},
	}
	return cmd
}

func newAnswerCommand() *cobra.Command {
	var (
		stage string
		sets  []string
		file  string
	)

	cmd := &cobra.Command{
		Use:   "answer <solution-id>",
		Short: "Answer the questions of a stage",
		Long: `Submit answers for one stage. Stages are answered in order:
required, basic, advanced, open. Optional stages may be skipped by answering
a later stage; submitting no answers skips the given stage.

Values given with --set are read as YAML scalars: numbers and booleans are
typed, "null" skips a single question, everything else is text.`,
		Example: `  # Answer the required stage
  deployconf answer sol_01h... --stage required --set name=shop --set image=nginx:1.27

  # Answer from a file
  deployconf answer sol_01h... --stage basic -f basic.yaml

  # Skip the advanced stage
  deployconf answer sol_01h... --stage advanced

  # Finish with the open question
  deployconf answer sol_01h... --stage open --set open="expose on port 8080"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := engine.ParseStage(stage)
			if err != nil {
				return err
			}

			answers := engine.Answers{}
			if file != "" {
				if answers, err = loadAnswersFile(file); err != nil {
					return err
				}
			}
			flagAnswers, err := parseSetFlags(sets)
			if err != nil {
				return err
			}
			answers = mergeAnswers(answers, flagAnswers)

			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.orch.AnswerQuestion(cmd.Context(), args[0], st, answers)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}

				fmt.Printf("✓ Stage %s accepted\n\n", st)
				if res.Status == engine.ResultReadyForGeneration {
					fmt.Printf("All stages are complete.\n\nNext: deployconf generate %s\n", res.SolutionID)
					return nil
				}
				printQuestions(os.Stdout, res.CurrentStage, res.Questions)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&stage, "stage", "s", "", "stage to answer (required, basic, advanced, open)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "answer as id=value (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file mapping question ids to answers")
	_ = cmd.MarkFlagRequired("stage")

	return cmd
}
