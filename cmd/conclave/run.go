package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mtzanidakis/conclave/internal/config"
	"github.com/mtzanidakis/conclave/internal/pipeline"
	"github.com/mtzanidakis/conclave/internal/router"
	"github.com/mtzanidakis/conclave/internal/swarm"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Dispatch a batch of agent tasks and print the merged report",
	Long: `Run dispatches ad-hoc agents and merges their output.

Agents are given as model:role:task. The task part may be left out when a
shared task is passed as the argument. Without any --agent flag, --count
copies of the shared task run on the default model.

Examples:
  # Three models answer the same question side by side
  conclave run "Compare SQLite and Postgres for an embedded job queue" \
    --agent fast:analyst --agent deep:analyst --agent deep:skeptic \
    --aggregate compare

  # A chain where each step sees the previous output
  conclave run --mode sequential \
    --agent "fast:outliner:Outline a post about Go generics" \
    --agent "deep:writer:Write the post from the outline"

  # Research in parallel, then write three drafts from the findings
  conclave run --mode hybrid \
    --research "fast:researcher:History of the B-tree" \
    --research "fast:researcher:B-tree variants in modern databases" \
    --draft-template "Write an article.\n\nResearch:\n{{research}}" --drafts 3

  # Let the keyword router pick the mode
  conclave run --auto --count 3 "Brainstorm alternatives for the cache layer"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runMode            string
	runAgents          []string
	runCount           int
	runAggregate       string
	runMaxConcurrent   int
	runEffort          string
	runTimeout         int
	runAuto            bool
	runContinueOnError bool
	runResearch        []string
	runDraftTemplate   string
	runDrafts          int
	runDraftAgent      string
	runJSON            bool
	runNoHistory       bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runMode, "mode", "m", "parallel", "Execution mode: parallel, sequential or hybrid")
	f.StringArrayVarP(&runAgents, "agent", "a", nil, "Agent as model:role[:task] (repeatable)")
	f.IntVarP(&runCount, "count", "n", 1, "Copies of the shared task to run when no --agent is given")
	f.StringVar(&runAggregate, "aggregate", "", "Aggregation: synthesize, concatenate, compare or last")
	f.IntVar(&runMaxConcurrent, "max-concurrent", 0, "Maximum tasks in flight (default from config)")
	f.StringVar(&runEffort, "effort", "", "Reasoning effort: off, low, medium or high")
	f.IntVar(&runTimeout, "timeout", 0, "Per-task timeout in seconds (default from config)")
	f.BoolVar(&runAuto, "auto", false, "Pick the mode from the task text")
	f.BoolVar(&runContinueOnError, "continue-on-error", true, "Keep going after a failed sequential step")
	f.StringArrayVar(&runResearch, "research", nil, "Hybrid research agent as model:role:task (repeatable)")
	f.StringVar(&runDraftTemplate, "draft-template", "", "Hybrid draft prompt containing {{research}}, or @file")
	f.IntVar(&runDrafts, "drafts", 3, "Number of hybrid drafts")
	f.StringVar(&runDraftAgent, "draft-agent", "", "Hybrid draft agent as model:role")
	f.BoolVar(&runJSON, "json", false, "Print the full result as JSON")
	f.BoolVar(&runNoHistory, "no-history", false, "Do not record the run in the store")
}

func runRun(cmd *cobra.Command, args []string) error {
	shared := ""
	if len(args) == 1 {
		shared = args[0]
	}

	mode := swarm.Mode(runMode)
	if runAuto {
		if shared == "" {
			return errors.New("--auto needs a task argument")
		}
		rec := router.Recommend(shared)
		mode, shared = rec.Mode, rec.Task
		fmt.Fprintf(os.Stderr, "mode: %s (%s)\n", rec.Mode, rec.Reason)
	}
	if _, err := swarm.ParseMode(string(mode)); err != nil {
		return err
	}
	agg, err := swarm.ParseAggregation(runAggregate)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(func(c *config.Config) {
		if runMaxConcurrent > 0 {
			c.Engine.MaxConcurrent = runMaxConcurrent
		}
		if cmd.Flags().Changed("continue-on-error") {
			c.Engine.ContinueOnError = runContinueOnError
		}
		if runTimeout > 0 {
			c.Engine.DefaultTimeout = time.Duration(runTimeout) * time.Second
		}
		if runEffort != "" {
			c.Engine.DefaultEffort = runEffort
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	e, err := newEngine(ctx, cfg, engineOptions{history: !runNoHistory})
	if err != nil {
		return err
	}
	defer e.Close()

	var res *pipeline.Result
	if mode == swarm.ModeHybrid {
		req, err := hybridRequest(shared)
		if err != nil {
			return err
		}
		res, _, err = e.runner.RunHybrid(ctx, "cli", req)
		if err != nil {
			return err
		}
	} else {
		tasks, err := buildTasks(runAgents, shared, runCount)
		if err != nil {
			return err
		}
		res, err = e.runner.RunBatch(ctx, "cli", tasks, mode, agg)
		if err != nil {
			return err
		}
	}

	return printResult(res, runJSON)
}

func hybridRequest(shared string) (swarm.HybridRequest, error) {
	research, err := parseAgentSpecs(runResearch, shared)
	if err != nil {
		return swarm.HybridRequest{}, err
	}

	tmpl := runDraftTemplate
	if path, ok := strings.CutPrefix(tmpl, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return swarm.HybridRequest{}, fmt.Errorf("read draft template: %w", err)
		}
		tmpl = string(data)
	} else {
		tmpl = strings.ReplaceAll(tmpl, `\n`, "\n")
	}

	var draft swarm.AgentTask
	if runDraftAgent != "" {
		draft, err = parseAgentSpec(runDraftAgent, "-")
		if err != nil {
			return swarm.HybridRequest{}, err
		}
		draft.Task = ""
	}

	return swarm.HybridRequest{
		Research:      research,
		DraftTemplate: tmpl,
		Draft:         draft,
		NumDrafts:     runDrafts,
	}, nil
}

// buildTasks turns --agent specs into tasks, or count copies of shared
// on the default model when no spec is given.
func buildTasks(specs []string, shared string, count int) ([]swarm.AgentTask, error) {
	if len(specs) > 0 {
		return parseAgentSpecs(specs, shared)
	}
	if shared == "" {
		return nil, errors.New("nothing to run: pass a task argument or at least one --agent")
	}
	if count < 1 {
		return nil, fmt.Errorf("--count must be positive, got %d", count)
	}
	tasks := make([]swarm.AgentTask, count)
	for i := range tasks {
		tasks[i] = swarm.AgentTask{Task: shared}
	}
	return tasks, nil
}

func parseAgentSpecs(specs []string, shared string) ([]swarm.AgentTask, error) {
	tasks := make([]swarm.AgentTask, 0, len(specs))
	for _, spec := range specs {
		t, err := parseAgentSpec(spec, shared)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// parseAgentSpec parses model:role[:task]. Everything after the second
// colon is the task, so task text may contain colons.
func parseAgentSpec(spec, shared string) (swarm.AgentTask, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return swarm.AgentTask{}, fmt.Errorf("invalid agent %q: want model:role[:task]", spec)
	}

	t := swarm.AgentTask{Model: strings.TrimSpace(parts[0]), Role: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		t.Task = strings.TrimSpace(parts[2])
	}
	if t.Task == "" {
		t.Task = shared
	}
	if t.Task == "" {
		return swarm.AgentTask{}, fmt.Errorf("agent %q has no task and no shared task was given", spec)
	}
	return t, nil
}

func printResult(res *pipeline.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Println(res.Report)
		fmt.Fprintf(os.Stderr, "\nrun %s: %s\n", res.ID, res.Stats)
	}

	if res.Stats.SuccessCount == 0 {
		return errors.New("every task failed")
	}
	return nil
}
