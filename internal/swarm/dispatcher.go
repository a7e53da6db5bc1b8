package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/conclave/internal/config"
)

// Invoker runs one task against one worker session. Invoke never returns
// an error: timeouts, non-zero exits and transport failures come back as a
// failed TaskResult. Resolve maps a model alias to a backend id and is
// called for every task before anything is dispatched.
type Invoker interface {
	Resolve(model string) (string, error)
	Invoke(ctx context.Context, task AgentTask) TaskResult
}

type Dispatcher struct {
	invoker Invoker
	pool    *Pool
	cfg     config.EngineConfig
}

func NewDispatcher(inv Invoker, cfg config.EngineConfig) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = config.DefaultEngine().MaxConcurrent
	}
	return &Dispatcher{
		invoker: inv,
		pool:    NewPool(cfg.MaxConcurrent),
		cfg:     cfg,
	}
}

func (d *Dispatcher) Config() config.EngineConfig {
	return d.cfg
}

// Prepare fills in defaults and validates a batch. Tasks without a label
// get agent_<n> in submission order.
func (d *Dispatcher) Prepare(tasks []AgentTask) ([]AgentTask, error) {
	return d.prepare(tasks, "agent")
}

func (d *Dispatcher) prepare(tasks []AgentTask, labelPrefix string) ([]AgentTask, error) {
	defaultTimeout := int(d.cfg.DefaultTimeout / time.Second)
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeoutSeconds
	}
	defaultEffort := Effort(d.cfg.DefaultEffort)
	if defaultEffort == "" {
		defaultEffort = EffortOff
	}

	out := make([]AgentTask, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Label == "" {
			continue
		}
		if seen[t.Label] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, t.Label)
		}
		seen[t.Label] = true
	}

	for i, t := range tasks {
		// Generated labels skip anything the caller already took.
		if t.Label == "" {
			for n := i + 1; ; n++ {
				label := fmt.Sprintf("%s_%d", labelPrefix, n)
				if !seen[label] {
					t.Label = label
					seen[label] = true
					break
				}
			}
		}

		if t.Task == "" {
			return nil, fmt.Errorf("%w (task %q)", ErrEmptyTask, t.Label)
		}
		if t.Effort == "" {
			t.Effort = defaultEffort
		}
		if !t.Effort.Valid() {
			return nil, fmt.Errorf("%w: %q (task %q)", ErrInvalidEffort, t.Effort, t.Label)
		}
		if t.TimeoutSeconds == 0 {
			t.TimeoutSeconds = defaultTimeout
		}
		if t.TimeoutSeconds < 0 {
			return nil, fmt.Errorf("%w: %d (task %q)", ErrInvalidTimeout, t.TimeoutSeconds, t.Label)
		}
		if _, err := d.invoker.Resolve(t.Model); err != nil {
			return nil, fmt.Errorf("%w: task %q: %w", ErrConfig, t.Label, err)
		}
		if t.SessionID == "" {
			t.SessionID = uuid.New().String()
		}
		out[i] = t
	}
	return out, nil
}

// Run dispatches a batch in parallel or sequential mode and returns one
// result per task in input order. The error is non-nil only for
// configuration problems found before anything was dispatched; task
// failures are reported in the results. A sequential run with
// continue_on_error disabled returns a shorter slice when a task fails.
func (d *Dispatcher) Run(ctx context.Context, tasks []AgentTask, mode Mode) ([]TaskResult, error) {
	if mode != ModeParallel && mode != ModeSequential {
		return nil, fmt.Errorf("%w: %q (use RunHybrid for hybrid batches)", ErrInvalidMode, mode)
	}
	prepared, err := d.Prepare(tasks)
	if err != nil {
		return nil, err
	}
	return d.RunPrepared(ctx, prepared, mode), nil
}

// RunPrepared dispatches tasks that already went through Prepare.
func (d *Dispatcher) RunPrepared(ctx context.Context, tasks []AgentTask, mode Mode) []TaskResult {
	slog.Info("dispatching batch", "mode", mode, "tasks", len(tasks), "max_concurrent", d.pool.Limit())
	if mode == ModeSequential {
		return d.runSequential(ctx, tasks)
	}
	return d.runParallel(ctx, tasks)
}

func (d *Dispatcher) runParallel(ctx context.Context, tasks []AgentTask) []TaskResult {
	results := make([]TaskResult, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task AgentTask) {
			defer wg.Done()
			start := time.Now()
			err := d.pool.Run(ctx, func() {
				results[i] = d.invoke(ctx, task)
			})
			if err != nil {
				results[i] = Failed(task, "cancelled before start: "+err.Error(), time.Since(start))
			}
		}(i, task)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) runSequential(ctx context.Context, tasks []AgentTask) []TaskResult {
	results := make([]TaskResult, 0, len(tasks))

	for i, task := range tasks {
		if i > 0 {
			task.Task = WithPriorOutput(task.Task, results[i-1])
		}

		var result TaskResult
		start := time.Now()
		err := d.pool.Run(ctx, func() {
			result = d.invoke(ctx, task)
		})
		if err != nil {
			result = Failed(task, "cancelled before start: "+err.Error(), time.Since(start))
		}
		results = append(results, result)

		if !result.Success && !d.cfg.ContinueOnError {
			slog.Warn("sequential batch stopped on failure",
				"label", task.Label,
				"index", i,
				"skipped", len(tasks)-i-1,
				"error", result.Error,
			)
			break
		}
	}

	return results
}

func (d *Dispatcher) invoke(ctx context.Context, task AgentTask) TaskResult {
	slog.Debug("invoking worker", "label", task.Label, "model", task.Model, "session", task.SessionID)
	result := d.invoker.Invoke(ctx, task)
	if result.Success {
		slog.Info("task completed", "label", task.Label, "elapsed_ms", result.ElapsedMs)
	} else {
		slog.Warn("task failed", "label", task.Label, "elapsed_ms", result.ElapsedMs, "error", result.Error)
	}
	return result
}
