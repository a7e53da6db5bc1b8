package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mtzanidakis/conclave/internal/swarm"
	"github.com/mtzanidakis/conclave/internal/telemetry"
)

// ErrTimeout is the error text of a result whose worker missed its deadline.
const ErrTimeout = "timeout"

// ErrEmptyOutput is the error text of a worker that exited cleanly
// without writing anything.
const ErrEmptyOutput = "empty output"

const maxStderrInError = 500

type Resolver interface {
	Resolve(alias string) (string, error)
}

// Invoker satisfies swarm.Invoker on top of a Session.
type Invoker struct {
	session Session
	models  Resolver
	metrics *telemetry.Metrics
}

type Option func(*Invoker)

func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *Invoker) { i.metrics = m }
}

func NewInvoker(s Session, models Resolver, opts ...Option) *Invoker {
	inv := &Invoker{session: s, models: models}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

func (i *Invoker) Resolve(alias string) (string, error) {
	return i.models.Resolve(alias)
}

type callResult struct {
	resp Response
	err  error
}

// Invoke runs task against the session and enforces its timeout. The
// session call runs in its own goroutine so a backend that ignores
// context cancellation still cannot hold the result past the deadline.
func (i *Invoker) Invoke(ctx context.Context, task swarm.AgentTask) swarm.TaskResult {
	start := time.Now()

	backend, err := i.models.Resolve(task.Model)
	if err != nil {
		return swarm.Failed(task, fmt.Sprintf("resolve model: %v", err), time.Since(start))
	}

	timeout := task.Timeout()
	if timeout <= 0 {
		timeout = swarm.DefaultTimeoutSeconds * time.Second
	}

	ctx, span := telemetry.StartInvokeSpan(ctx, task.Label, task.Model, task.SessionID)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := Request{
		SessionID: task.SessionID,
		Model:     backend,
		Role:      task.Role,
		Effort:    string(task.Effort),
		Task:      task.Task,

		TimeoutSeconds: int(timeout / time.Second),
	}

	done := make(chan callResult, 1)
	go func() {
		resp, err := i.session.Call(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var result swarm.TaskResult
	select {
	case cr := <-done:
		result = i.toResult(task, cr, callCtx, time.Since(start))
	case <-callCtx.Done():
		result = swarm.Failed(task, deadlineReason(ctx, callCtx), time.Since(start))
	}

	if !result.Success {
		slog.Debug("worker invocation failed", "label", task.Label, "session", task.SessionID, "error", result.Error)
	}
	telemetry.End(span, result.Error)
	i.metrics.RecordInvocation(ctx, task.Model, result.Success, time.Since(start))
	return result
}

func (i *Invoker) toResult(task swarm.AgentTask, cr callResult, callCtx context.Context, elapsed time.Duration) swarm.TaskResult {
	if cr.err != nil {
		if callCtx.Err() != nil {
			return swarm.Failed(task, deadlineReason(nil, callCtx), elapsed)
		}
		return swarm.Failed(task, "worker call failed: "+cr.err.Error(), elapsed)
	}
	if cr.resp.ExitStatus != 0 {
		msg := fmt.Sprintf("exit status %d", cr.resp.ExitStatus)
		if stderr := strings.TrimSpace(cr.resp.Stderr); stderr != "" {
			msg += ": " + truncate(stderr, maxStderrInError)
		}
		return swarm.Failed(task, msg, elapsed)
	}
	if strings.TrimSpace(cr.resp.Stdout) == "" {
		return swarm.Failed(task, ErrEmptyOutput, elapsed)
	}
	return swarm.Succeeded(task, cr.resp.Stdout, elapsed)
}

// deadlineReason distinguishes the task's own deadline from the caller
// cancelling the parent context.
func deadlineReason(parent, callCtx context.Context) string {
	if parent != nil && parent.Err() != nil {
		return "cancelled"
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return "cancelled"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
