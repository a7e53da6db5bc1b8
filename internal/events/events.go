// Package events publishes run lifecycle events onto the NATS bus.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mtzanidakis/conclave/internal/natsbus"
	"github.com/mtzanidakis/conclave/internal/pipeline"
	"github.com/mtzanidakis/conclave/internal/swarm"
)

const (
	TypeRunStarted     = "run_started"
	TypePhaseStarted   = "phase_started"
	TypePhaseCompleted = "phase_completed"
	TypeRunCompleted   = "run_completed"
)

// Event is the JSON envelope published on events.run.<id>.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type publisher interface {
	Publish(topic string, data []byte) error
}

// Publisher is a pipeline.Observer that mirrors the run lifecycle onto
// the bus. Publishing is best effort; a failure is logged and dropped.
type Publisher struct {
	client publisher
}

func NewPublisher(client *natsbus.Client) *Publisher {
	if client == nil {
		return &Publisher{}
	}
	return &Publisher{client: client}
}

func (p *Publisher) RunStarted(_ context.Context, run pipeline.RunInfo) {
	p.publish(run.ID, TypeRunStarted, map[string]any{
		"name":   run.Name,
		"kind":   run.Kind,
		"phases": run.Phases,
		"tasks":  run.Tasks,
	})
}

func (p *Publisher) PhaseStarted(_ context.Context, runID, phase string, mode swarm.Mode, tasks int) {
	p.publish(runID, TypePhaseStarted, map[string]any{
		"phase": phase,
		"mode":  mode,
		"tasks": tasks,
	})
}

func (p *Publisher) PhaseCompleted(_ context.Context, runID string, phase pipeline.PhaseResult) {
	failed := make([]string, 0, phase.Stats.FailureCount)
	for _, r := range phase.Results {
		if !r.Success {
			failed = append(failed, r.Label)
		}
	}
	p.publish(runID, TypePhaseCompleted, map[string]any{
		"phase":   phase.Name,
		"mode":    phase.Mode,
		"stats":   phase.Stats,
		"summary": phase.Stats.String(),
		"failed":  failed,
	})
}

func (p *Publisher) RunCompleted(_ context.Context, res *pipeline.Result) {
	p.publish(res.ID, TypeRunCompleted, map[string]any{
		"name":        res.Name,
		"kind":        res.Kind,
		"stats":       res.Stats,
		"summary":     res.Stats.String(),
		"duration_ms": res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	})
}

func (p *Publisher) publish(runID, eventType string, data map[string]any) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		slog.Warn("marshal event", "type", eventType, "error", err)
		return
	}
	if err := p.client.Publish(natsbus.TopicEventsRun(runID), payload); err != nil {
		slog.Warn("publish event", "type", eventType, "run", runID, "error", err)
	}
}
