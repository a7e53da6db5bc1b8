package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtzanidakis/conclave/internal/config"
)

// spyInvoker records every invocation and answers through fn.
type spyInvoker struct {
	calls   atomic.Int32
	running atomic.Int32
	peak    atomic.Int32

	mu    sync.Mutex
	texts map[string]string

	delay   time.Duration
	fn      func(task AgentTask) (string, error)
	unknown map[string]bool
}

func newSpy() *spyInvoker {
	return &spyInvoker{texts: make(map[string]string)}
}

func (s *spyInvoker) Resolve(model string) (string, error) {
	if s.unknown[model] {
		return "", fmt.Errorf("unknown model alias %q", model)
	}
	return "backend-" + model, nil
}

func (s *spyInvoker) Invoke(ctx context.Context, task AgentTask) TaskResult {
	s.calls.Add(1)
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.texts[task.Label] = task.Task
	s.mu.Unlock()

	start := time.Now()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fn == nil {
		return Succeeded(task, "out-"+task.Label, time.Since(start))
	}
	out, err := s.fn(task)
	if err != nil {
		return Failed(task, err.Error(), time.Since(start))
	}
	return Succeeded(task, out, time.Since(start))
}

func (s *spyInvoker) text(label string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts[label]
}

func engine(maxConcurrent int, continueOnError bool) config.EngineConfig {
	cfg := config.DefaultEngine()
	cfg.MaxConcurrent = maxConcurrent
	cfg.ContinueOnError = continueOnError
	return cfg
}

func tasks(labels ...string) []AgentTask {
	out := make([]AgentTask, len(labels))
	for i, l := range labels {
		out[i] = AgentTask{Task: "do " + l, Model: "fast", Role: "worker", Label: l}
	}
	return out
}

func TestPrepareDefaults(t *testing.T) {
	d := NewDispatcher(newSpy(), engine(2, true))

	got, err := d.Prepare([]AgentTask{{Task: "a"}, {Task: "b", Label: "named"}, {Task: "c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantLabels := []string{"agent_1", "named", "agent_3"}
	for i, want := range wantLabels {
		if got[i].Label != want {
			t.Errorf("task %d: expected label %q, got %q", i, want, got[i].Label)
		}
		if got[i].Effort != EffortOff {
			t.Errorf("task %d: expected effort off, got %q", i, got[i].Effort)
		}
		if got[i].TimeoutSeconds != DefaultTimeoutSeconds {
			t.Errorf("task %d: expected timeout %d, got %d", i, DefaultTimeoutSeconds, got[i].TimeoutSeconds)
		}
		if got[i].SessionID == "" {
			t.Errorf("task %d: expected generated session id", i)
		}
	}
	if got[0].SessionID == got[2].SessionID {
		t.Error("expected distinct session ids")
	}

	t.Run("generated labels skip caller labels", func(t *testing.T) {
		got, err := d.Prepare([]AgentTask{{Task: "a", Label: "agent_2"}, {Task: "b"}, {Task: "c", Label: "agent_3"}, {Task: "d"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"agent_2", "agent_4", "agent_3", "agent_5"}
		for i, w := range want {
			if got[i].Label != w {
				t.Errorf("task %d: expected label %q, got %q", i, w, got[i].Label)
			}
		}
	})

	t.Run("run accepts caller label matching a generated one", func(t *testing.T) {
		spy := newSpy()
		d := NewDispatcher(spy, engine(2, true))
		results, err := d.Run(context.Background(), []AgentTask{{Task: "a", Label: "agent_2"}, {Task: "b"}}, ModeParallel)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 2 || results[0].Label != "agent_2" || results[1].Label != "agent_3" {
			t.Errorf("unexpected results: %+v", results)
		}
	})
}

func TestPrepareRejects(t *testing.T) {
	spy := newSpy()
	spy.unknown = map[string]bool{"nope": true}
	d := NewDispatcher(spy, engine(2, true))

	tests := []struct {
		name  string
		tasks []AgentTask
		want  error
	}{
		{"duplicate label", []AgentTask{{Task: "a", Label: "r1"}, {Task: "b", Label: "r1"}}, ErrDuplicateLabel},
		{"negative timeout", []AgentTask{{Task: "a", TimeoutSeconds: -1}}, ErrInvalidTimeout},
		{"empty task", []AgentTask{{Label: "x"}}, ErrEmptyTask},
		{"bad effort", []AgentTask{{Task: "a", Effort: "extreme"}}, ErrInvalidEffort},
		{"unknown model", []AgentTask{{Task: "a", Model: "nope"}}, ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Prepare(tt.tasks)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("expected error to wrap ErrConfig, got %v", err)
			}
		})
	}
}

func TestRunDuplicateLabelsDispatchesNothing(t *testing.T) {
	spy := newSpy()
	d := NewDispatcher(spy, engine(2, true))

	_, err := d.Run(context.Background(), tasks("r1", "r1"), ModeParallel)
	if !errors.Is(err, ErrDuplicateLabel) {
		t.Fatalf("expected duplicate label error, got %v", err)
	}
	if spy.calls.Load() != 0 {
		t.Fatalf("expected no dispatches, got %d", spy.calls.Load())
	}
}

func TestRunRejectsHybridMode(t *testing.T) {
	d := NewDispatcher(newSpy(), engine(2, true))
	if _, err := d.Run(context.Background(), tasks("a"), ModeHybrid); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
}

func TestParallelPreservesOrder(t *testing.T) {
	spy := newSpy()
	// Earlier tasks finish last.
	spy.fn = func(task AgentTask) (string, error) {
		switch task.Label {
		case "a":
			time.Sleep(60 * time.Millisecond)
		case "b":
			time.Sleep(30 * time.Millisecond)
		}
		return "out-" + task.Label, nil
	}
	d := NewDispatcher(spy, engine(5, true))

	in := tasks("a", "b", "c", "d")
	results, err := d.Run(context.Background(), in, ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(in) {
		t.Fatalf("expected %d results, got %d", len(in), len(results))
	}
	for i := range in {
		if results[i].Label != in[i].Label {
			t.Errorf("result %d: expected label %q, got %q", i, in[i].Label, results[i].Label)
		}
		if results[i].Output != "out-"+in[i].Label {
			t.Errorf("result %d: unexpected output %q", i, results[i].Output)
		}
	}
}

func TestParallelBoundedConcurrency(t *testing.T) {
	spy := newSpy()
	spy.delay = 50 * time.Millisecond
	d := NewDispatcher(spy, engine(2, true))

	start := time.Now()
	results, err := d.Run(context.Background(), tasks("a", "b", "c", "d"), ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if p := spy.peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent invocations, saw %d", p)
	}
	// ceil(4/2) rounds of 50ms, well under the 200ms a serial run takes.
	if elapsed > 180*time.Millisecond {
		t.Errorf("parallel batch took too long: %v", elapsed)
	}
}

func TestParallelFailureDoesNotCancelSiblings(t *testing.T) {
	spy := newSpy()
	spy.fn = func(task AgentTask) (string, error) {
		if task.Label == "b" {
			return "", errors.New("exit status 1")
		}
		return "ok", nil
	}
	d := NewDispatcher(spy, engine(3, false))

	results, err := d.Run(context.Background(), tasks("a", "b", "c"), ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spy.calls.Load() != 3 {
		t.Fatalf("expected 3 invocations, got %d", spy.calls.Load())
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("unexpected success pattern: %+v", results)
	}
	if results[1].Error != "exit status 1" || results[1].Output != "" {
		t.Errorf("expected only error populated on failure, got %+v", results[1])
	}
}

func TestSequentialChainsPriorOutput(t *testing.T) {
	spy := newSpy()
	spy.fn = func(task AgentTask) (string, error) {
		return "result of " + task.Label, nil
	}
	d := NewDispatcher(spy, engine(5, true))

	results, err := d.Run(context.Background(), tasks("s1", "s2", "s3"), ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if strings.Contains(spy.text("s1"), "PRIOR OUTPUT") {
		t.Error("first task should not carry prior output")
	}
	if !strings.Contains(spy.text("s2"), "result of s1") {
		t.Errorf("s2 text missing s1 output: %q", spy.text("s2"))
	}
	if !strings.Contains(spy.text("s3"), "result of s2") {
		t.Errorf("s3 text missing s2 output: %q", spy.text("s3"))
	}
	if !strings.HasPrefix(spy.text("s2"), "do s2") {
		t.Errorf("s2 text should start with its own task: %q", spy.text("s2"))
	}
}

func TestSequentialStopsOnFailure(t *testing.T) {
	spy := newSpy()
	spy.fn = func(task AgentTask) (string, error) {
		if task.Label == "s2" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}
	d := NewDispatcher(spy, engine(5, false))

	results, err := d.Run(context.Background(), tasks("s1", "s2", "s3", "s4"), ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// failure at index k=1 -> k+1 results
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].Success {
		t.Error("expected s2 to be marked failed")
	}
	if spy.calls.Load() != 2 {
		t.Errorf("expected 2 invocations, got %d", spy.calls.Load())
	}
}

func TestSequentialContinuesWithMarker(t *testing.T) {
	spy := newSpy()
	spy.fn = func(task AgentTask) (string, error) {
		if task.Label == "s1" {
			return "", errors.New("timeout")
		}
		return "ok", nil
	}
	d := NewDispatcher(spy, engine(5, true))

	results, err := d.Run(context.Background(), tasks("s1", "s2"), ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !strings.Contains(spy.text("s2"), NoOutputMarker) {
		t.Errorf("expected no-output marker in s2 text: %q", spy.text("s2"))
	}
}

func TestParallelCancelledBeforeStart(t *testing.T) {
	spy := newSpy()
	d := NewDispatcher(spy, engine(1, true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.RunPrepared(ctx, mustPrepare(t, d, tasks("a", "b")), ModeParallel)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Success {
			t.Errorf("expected cancelled result for %s", r.Label)
		}
		if r.Label == "" {
			t.Error("expected label on cancelled result")
		}
	}
}

func mustPrepare(t *testing.T, d *Dispatcher, in []AgentTask) []AgentTask {
	t.Helper()
	out, err := d.Prepare(in)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return out
}
