package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/conclave/internal/config"
	"github.com/mtzanidakis/conclave/internal/pipeline"
	"github.com/mtzanidakis/conclave/internal/router"
	"github.com/mtzanidakis/conclave/internal/store"
	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline <file>",
	Short: "Run a multi-phase pipeline from a YAML or JSON file",
	Long: `Pipeline runs the phases of a pipeline file in declared order. A phase
that lists depends_on receives the reports of those phases ahead of its own
task text. The whole file is validated before any task is dispatched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.LoadFile(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig(func(c *config.Config) {
			if pipelineMaxConcurrent > 0 {
				c.Engine.MaxConcurrent = pipelineMaxConcurrent
			}
		})
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEngine(ctx, cfg, engineOptions{history: !pipelineNoHistory})
		if err != nil {
			return err
		}
		defer e.Close()

		plan, err := e.runner.Plan(p)
		if err != nil {
			return err
		}
		if pipelineDryRun {
			fmt.Printf("pipeline %s: %d phases, %d tasks\n", plan.Name, len(plan.Steps), plan.TaskCount())
			for _, s := range plan.Steps {
				fmt.Printf("  %s (%s, %s, %d agents) depends on %v\n", s.Name, s.Mode, s.Aggregation, len(s.Agents), s.DependsOn)
			}
			return nil
		}

		return printResult(e.runner.Execute(ctx, plan), pipelineJSON)
	},
}

var (
	pipelineMaxConcurrent int
	pipelineDryRun        bool
	pipelineJSON          bool
	pipelineNoHistory     bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <task>",
	Short: "Suggest an execution mode for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := router.Recommend(args[0])
		fmt.Printf("%s\t%s\n", rec.Mode, rec.Reason)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or show one run in full",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		db, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer db.Close()

		if len(args) == 1 {
			run, err := db.GetRun(args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		runs, err := db.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		printRuns(runs)
		return nil
	},
}

var historyLimit int

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("conclave %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd, recommendCmd, historyCmd, versionCmd)

	pipelineCmd.Flags().IntVar(&pipelineMaxConcurrent, "max-concurrent", 0, "Maximum tasks in flight (default from config)")
	pipelineCmd.Flags().BoolVar(&pipelineDryRun, "dry-run", false, "Validate and print the plan without dispatching")
	pipelineCmd.Flags().BoolVar(&pipelineJSON, "json", false, "Print the full result as JSON")
	pipelineCmd.Flags().BoolVar(&pipelineNoHistory, "no-history", false, "Do not record the run in the store")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list (0 for all)")
}

func printRuns(runs []store.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATUS\tOK\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Name, r.Kind, r.Status, r.Succeeded, r.Failed,
			r.StartedAt.Local().Format(time.DateTime), duration)
	}
	w.Flush()
}
