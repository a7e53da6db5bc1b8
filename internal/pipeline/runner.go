package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/conclave/internal/swarm"
	"github.com/mtzanidakis/conclave/internal/telemetry"
)

const (
	KindBatch    = "batch"
	KindHybrid   = "hybrid"
	KindPipeline = "pipeline"
)

// PhaseResult keeps the raw results of one phase next to its aggregated
// report.
type PhaseResult struct {
	Name        string             `json:"name"`
	Mode        swarm.Mode         `json:"mode"`
	Aggregation swarm.Aggregation  `json:"aggregation"`
	Results     []swarm.TaskResult `json:"results"`
	Stats       swarm.Stats        `json:"stats"`
	Report      string             `json:"report"`
}

type Result struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Kind       string        `json:"kind"`
	Phases     []PhaseResult `json:"phases"`
	Report     string        `json:"report"`
	Stats      swarm.Stats   `json:"stats"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Results maps each phase name to its raw task results.
func (r *Result) Results() map[string][]swarm.TaskResult {
	out := make(map[string][]swarm.TaskResult, len(r.Phases))
	for _, p := range r.Phases {
		out[p.Name] = p.Results
	}
	return out
}

func (r *Result) Phase(name string) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Name == name {
			return &r.Phases[i]
		}
	}
	return nil
}

type RunInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Phases    int       `json:"phases"`
	Tasks     int       `json:"tasks"`
	StartedAt time.Time `json:"started_at"`
}

// Observer follows a run through its lifecycle. Observers are called
// synchronously from the runner and must not block for long.
type Observer interface {
	RunStarted(ctx context.Context, run RunInfo)
	PhaseStarted(ctx context.Context, runID, phase string, mode swarm.Mode, tasks int)
	PhaseCompleted(ctx context.Context, runID string, phase PhaseResult)
	RunCompleted(ctx context.Context, result *Result)
}

type Runner struct {
	dispatcher *swarm.Dispatcher
	reporter   swarm.Reporter
	observers  []Observer
}

type Option func(*Runner)

// WithReporter sets the stats reporter called after every phase.
func WithReporter(r swarm.Reporter) Option {
	return func(rn *Runner) { rn.reporter = r }
}

func WithObserver(o Observer) Option {
	return func(rn *Runner) {
		if o != nil {
			rn.observers = append(rn.observers, o)
		}
	}
}

func NewRunner(d *swarm.Dispatcher, opts ...Option) *Runner {
	r := &Runner{dispatcher: d, reporter: swarm.LogReporter{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Dispatcher() *swarm.Dispatcher {
	return r.dispatcher
}

func (r *Runner) Plan(p swarm.Pipeline) (*Plan, error) {
	return BuildPlan(p, r.dispatcher)
}

// Run validates p and executes it. The error is non-nil only for
// configuration problems, in which case nothing was dispatched.
func (r *Runner) Run(ctx context.Context, p swarm.Pipeline) (*Result, error) {
	plan, err := r.Plan(p)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, plan), nil
}

// RunBatch runs one ad-hoc batch as a single-phase run so it gets the same
// events and history as a pipeline.
func (r *Runner) RunBatch(ctx context.Context, name string, tasks []swarm.AgentTask, mode swarm.Mode, agg swarm.Aggregation) (*Result, error) {
	if name == "" {
		name = "batch"
	}
	plan, err := r.Plan(swarm.Pipeline{
		Name:   name,
		Phases: []swarm.Phase{{Name: "batch", Mode: mode, Agents: tasks, Aggregation: agg}},
	})
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, plan, KindBatch), nil
}

// Execute runs an already validated plan, phases strictly in order.
func (r *Runner) Execute(ctx context.Context, plan *Plan) *Result {
	return r.execute(ctx, plan, KindPipeline)
}

func (r *Runner) execute(ctx context.Context, plan *Plan, kind string) *Result {
	res := r.start(ctx, plan.ID, plan.Name, kind, len(plan.Steps), plan.TaskCount())

	done := make(map[string]int, len(plan.Steps))
	for _, step := range plan.Steps {
		tasks := make([]swarm.AgentTask, len(step.Agents))
		copy(tasks, step.Agents)

		if len(step.DependsOn) > 0 {
			outputs := make([]swarm.PhaseOutput, 0, len(step.DependsOn))
			for _, dep := range step.DependsOn {
				prior := res.Phases[done[dep]]
				outputs = append(outputs, swarm.PhaseOutput{
					Phase:  dep,
					Report: prior.Report,
					Failed: prior.Stats.SuccessCount == 0,
				})
			}
			for i := range tasks {
				tasks[i].Task = swarm.WithPhaseOutputs(tasks[i].Task, outputs)
			}
		}

		pr := r.runPhase(ctx, res.ID, step, tasks)
		res.Phases = append(res.Phases, pr)
		done[step.Name] = len(res.Phases) - 1
	}

	return r.finish(ctx, res)
}

func (r *Runner) runPhase(ctx context.Context, runID string, step Step, tasks []swarm.AgentTask) PhaseResult {
	slog.Info("executing phase", "run", runID, "phase", step.Name, "mode", step.Mode, "tasks", len(tasks), "depends_on", step.DependsOn)
	for _, o := range r.observers {
		o.PhaseStarted(ctx, runID, step.Name, step.Mode, len(tasks))
	}

	spanCtx, span := telemetry.StartPhaseSpan(ctx, runID, step.Name, string(step.Mode), len(tasks))
	results := r.dispatcher.RunPrepared(spanCtx, tasks, step.Mode)

	pr := PhaseResult{
		Name:        step.Name,
		Mode:        step.Mode,
		Aggregation: step.Aggregation,
		Results:     results,
		Stats:       swarm.Summarize(results, step.Mode),
	}
	pr.Report = swarm.Aggregate(results, step.Aggregation, originalTask(step.Agents))

	var spanErr string
	if pr.Stats.SuccessCount == 0 {
		spanErr = "no task succeeded"
	}
	telemetry.End(span, spanErr)

	r.reporter.Report(ctx, runID+"/"+step.Name, step.Mode, results, pr.Stats)
	for _, o := range r.observers {
		o.PhaseCompleted(ctx, runID, pr)
	}
	return pr
}

func (r *Runner) start(ctx context.Context, id, name, kind string, phases, tasks int) *Result {
	if id == "" {
		id = uuid.New().String()
	}
	res := &Result{
		ID:        id,
		Name:      name,
		Kind:      kind,
		StartedAt: time.Now(),
	}
	slog.Info("run started", "run", res.ID, "name", name, "kind", kind, "phases", phases, "tasks", tasks)
	info := RunInfo{ID: res.ID, Name: name, Kind: kind, Phases: phases, Tasks: tasks, StartedAt: res.StartedAt}
	for _, o := range r.observers {
		o.RunStarted(ctx, info)
	}
	return res
}

func (r *Runner) finish(ctx context.Context, res *Result) *Result {
	res.FinishedAt = time.Now()

	var all []swarm.TaskResult
	for _, p := range res.Phases {
		all = append(all, p.Results...)
	}
	res.Stats = swarm.Summarize(all, swarm.ModeSequential)
	res.Stats.TotalElapsedMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	if n := len(res.Phases); n > 0 {
		res.Report = res.Phases[n-1].Report
	}

	slog.Info("run completed", "run", res.ID, "name", res.Name, "stats", res.Stats.String())
	for _, o := range r.observers {
		o.RunCompleted(ctx, res)
	}
	return res
}

// originalTask names what a phase was asked to do, for the synthesis
// header. Phases whose agents share one instruction report it verbatim.
func originalTask(agents []swarm.AgentTask) string {
	var distinct []string
	seen := make(map[string]bool)
	for _, a := range agents {
		if !seen[a.Task] {
			seen[a.Task] = true
			distinct = append(distinct, a.Task)
		}
	}
	return strings.Join(distinct, "\n")
}
