package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mtzanidakis/conclave/internal/config"
	"github.com/mtzanidakis/conclave/internal/natsbus"
	"github.com/mtzanidakis/conclave/internal/pipeline"
	"github.com/mtzanidakis/conclave/internal/swarm"
	"github.com/nats-io/nats.go"
)

type echoInvoker struct{}

func (echoInvoker) Resolve(model string) (string, error) { return model, nil }

func (echoInvoker) Invoke(_ context.Context, task swarm.AgentTask) swarm.TaskResult {
	if task.Label == "bad" {
		return swarm.Failed(task, "exit status 1", time.Millisecond)
	}
	return swarm.Succeeded(task, "ok", time.Millisecond)
}

func TestPublisherLifecycle(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: -1})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	received := make(chan Event, 16)
	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			received <- ev
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	client.Flush()

	runner := pipeline.NewRunner(
		swarm.NewDispatcher(echoInvoker{}, config.DefaultEngine()),
		pipeline.WithObserver(NewPublisher(client)),
	)
	res, err := runner.RunBatch(context.Background(), "evt", []swarm.AgentTask{
		{Task: "a", Label: "good"},
		{Task: "b", Label: "bad"},
	}, swarm.ModeParallel, swarm.AggregateConcatenate)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	client.Flush()

	want := []string{TypeRunStarted, TypePhaseStarted, TypePhaseCompleted, TypeRunCompleted}
	for i, typ := range want {
		select {
		case ev := <-received:
			if ev.Type != typ {
				t.Fatalf("event %d: expected %s, got %s", i, typ, ev.Type)
			}
			if ev.RunID != res.ID {
				t.Errorf("event %d: expected run %s, got %s", i, res.ID, ev.RunID)
			}
			if typ == TypePhaseCompleted {
				failed, _ := ev.Data["failed"].([]any)
				if len(failed) != 1 || failed[0] != "bad" {
					t.Errorf("expected bad listed as failed, got %v", ev.Data["failed"])
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", typ)
		}
	}
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.RunStarted(context.Background(), pipeline.RunInfo{ID: "x"})
	(&Publisher{}).RunCompleted(context.Background(), &pipeline.Result{ID: "x"})
}
