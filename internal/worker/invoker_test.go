package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/conclave/internal/registry"
	"github.com/mtzanidakis/conclave/internal/swarm"
	"github.com/mtzanidakis/conclave/internal/telemetry"
)

type fakeSession struct {
	fn func(ctx context.Context, req Request) (Response, error)

	mu   sync.Mutex
	last Request
}

func (f *fakeSession) Call(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func testRegistry() *registry.Registry {
	return registry.New(map[string]string{"fast": "backend-fast"}, "fast")
}

func task(label string, timeout int) swarm.AgentTask {
	return swarm.AgentTask{
		Task:           "do it",
		Model:          "fast",
		Role:           "analyst",
		Label:          label,
		Effort:         swarm.EffortLow,
		TimeoutSeconds: timeout,
		SessionID:      "sess-" + label,
	}
}

func TestInvokeSuccess(t *testing.T) {
	s := &fakeSession{fn: func(ctx context.Context, req Request) (Response, error) {
		return Response{Stdout: "answer"}, nil
	}}
	inv := NewInvoker(s, testRegistry())

	res := inv.Invoke(context.Background(), task("a", 5))
	if !res.Success || res.Output != "answer" || res.Error != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Label != "a" || res.Model != "fast" {
		t.Errorf("expected label and alias carried through, got %+v", res)
	}
	if s.last.Model != "backend-fast" {
		t.Errorf("expected resolved backend id, got %q", s.last.Model)
	}
	if s.last.Role != "analyst" || s.last.Effort != "low" || s.last.SessionID != "sess-a" {
		t.Errorf("request fields not forwarded: %+v", s.last)
	}
	if s.last.TimeoutSeconds != 5 {
		t.Errorf("expected timeout forwarded, got %d", s.last.TimeoutSeconds)
	}
}

func TestInvokeFailures(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(ctx context.Context, req Request) (Response, error)
		timeout int
		want    string
	}{
		{
			name: "non-zero exit",
			fn: func(ctx context.Context, req Request) (Response, error) {
				return Response{ExitStatus: 2, Stdout: "partial", Stderr: "rate limited\n"}, nil
			},
			timeout: 5,
			want:    "exit status 2: rate limited",
		},
		{
			name: "empty output",
			fn: func(ctx context.Context, req Request) (Response, error) {
				return Response{Stdout: " \n\t"}, nil
			},
			timeout: 5,
			want:    ErrEmptyOutput,
		},
		{
			name: "transport error",
			fn: func(ctx context.Context, req Request) (Response, error) {
				return Response{}, errors.New("connection refused")
			},
			timeout: 5,
			want:    "worker call failed: connection refused",
		},
		{
			name: "ignores context",
			fn: func(ctx context.Context, req Request) (Response, error) {
				time.Sleep(3 * time.Second)
				return Response{Stdout: "late"}, nil
			},
			timeout: 1,
			want:    ErrTimeout,
		},
		{
			name: "honours context",
			fn: func(ctx context.Context, req Request) (Response, error) {
				<-ctx.Done()
				return Response{}, ctx.Err()
			},
			timeout: 1,
			want:    ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewInvoker(&fakeSession{fn: tt.fn}, testRegistry())
			start := time.Now()
			res := inv.Invoke(context.Background(), task("x", tt.timeout))
			if res.Success {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.Error != tt.want {
				t.Errorf("expected error %q, got %q", tt.want, res.Error)
			}
			if res.Output != "" {
				t.Errorf("expected no output on failure, got %q", res.Output)
			}
			if time.Since(start) > 2500*time.Millisecond {
				t.Errorf("invocation outlived its deadline: %v", time.Since(start))
			}
		})
	}
}

func TestInvokeParentCancelled(t *testing.T) {
	s := &fakeSession{fn: func(ctx context.Context, req Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}}
	inv := NewInvoker(s, testRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := inv.Invoke(ctx, task("c", 10))
	if res.Success || res.Error != "cancelled" {
		t.Fatalf("expected cancelled failure, got %+v", res)
	}
}

func TestInvokeUnknownModel(t *testing.T) {
	called := false
	s := &fakeSession{fn: func(ctx context.Context, req Request) (Response, error) {
		called = true
		return Response{}, nil
	}}
	inv := NewInvoker(s, testRegistry())

	tk := task("u", 5)
	tk.Model = "missing"
	res := inv.Invoke(context.Background(), tk)
	if res.Success || !strings.Contains(res.Error, "unknown model") {
		t.Fatalf("expected resolve failure, got %+v", res)
	}
	if called {
		t.Error("session should not be called for an unknown model")
	}
	if _, err := inv.Resolve("missing"); !errors.Is(err, registry.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestInvokeWithMetrics(t *testing.T) {
	m, err := telemetry.NewMetrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	s := &fakeSession{fn: func(ctx context.Context, req Request) (Response, error) {
		return Response{Stdout: "ok"}, nil
	}}
	inv := NewInvoker(s, testRegistry(), WithMetrics(m))
	if res := inv.Invoke(context.Background(), task("m", 5)); !res.Success {
		t.Fatalf("unexpected failure: %+v", res)
	}
}

func TestExpandArgs(t *testing.T) {
	req := Request{SessionID: "s1", Model: "m1", Role: "critic", Effort: "high"}
	got := expandArgs([]string{"-p", "--model", "{model}", "--session={session_id}", "{role}/{effort}"}, req)
	want := []string{"-p", "--model", "m1", "--session=s1", "critic/high"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("expected %v, got %v", want, got)
	}
}
