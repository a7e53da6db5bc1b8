package pipeline

import (
	"context"
	"log/slog"

	"github.com/mtzanidakis/conclave/internal/store"
	"github.com/mtzanidakis/conclave/internal/swarm"
)

// History records every run in the store.
type History struct {
	store *store.Store
}

func NewHistory(s *store.Store) *History {
	return &History{store: s}
}

func (h *History) RunStarted(_ context.Context, run RunInfo) {
	err := h.store.SaveRun(&store.Run{
		ID:        run.ID,
		Name:      run.Name,
		Kind:      run.Kind,
		Status:    store.RunStatusRunning,
		StartedAt: run.StartedAt,
	})
	if err != nil {
		slog.Error("failed to record run start", "run", run.ID, "error", err)
	}
}

func (h *History) PhaseStarted(context.Context, string, string, swarm.Mode, int) {}

func (h *History) PhaseCompleted(context.Context, string, PhaseResult) {}

func (h *History) RunCompleted(_ context.Context, res *Result) {
	if err := h.store.SaveRun(ToRecord(res)); err != nil {
		slog.Error("failed to record run", "run", res.ID, "error", err)
	}
}

// ToRecord converts a finished run into its stored form.
func ToRecord(res *Result) *store.Run {
	finished := res.FinishedAt.UTC()
	run := &store.Run{
		ID:          res.ID,
		Name:        res.Name,
		Kind:        res.Kind,
		Status:      store.RunStatus(res.Stats.SuccessCount, res.Stats.FailureCount),
		Report:      res.Report,
		Succeeded:   res.Stats.SuccessCount,
		Failed:      res.Stats.FailureCount,
		StartedAt:   res.StartedAt,
		CompletedAt: &finished,
	}
	for _, p := range res.Phases {
		run.Phases = append(run.Phases, store.PhaseRecord{
			Name:        p.Name,
			Mode:        p.Mode,
			Aggregation: p.Aggregation,
			Results:     p.Results,
			Stats:       p.Stats,
			Report:      p.Report,
		})
	}
	return run
}
