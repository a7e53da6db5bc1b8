package swarm

import (
	"context"
	"log/slog"
)

// Reporter observes finished batches. It has no effect on control flow.
type Reporter interface {
	Report(ctx context.Context, batch string, mode Mode, results []TaskResult, stats Stats)
}

type LogReporter struct{}

func (LogReporter) Report(_ context.Context, batch string, mode Mode, results []TaskResult, stats Stats) {
	slog.Info("batch finished",
		"batch", batch,
		"mode", mode,
		"succeeded", stats.SuccessCount,
		"failed", stats.FailureCount,
		"total_ms", stats.TotalElapsedMs,
		"avg_ms", stats.AvgElapsedMs,
	)
	for _, r := range results {
		if !r.Success {
			slog.Warn("batch task failed", "batch", batch, "label", r.Label, "error", r.Error)
		}
	}
}

// Reporters fans a report out to several reporters in order.
type Reporters []Reporter

func (rs Reporters) Report(ctx context.Context, batch string, mode Mode, results []TaskResult, stats Stats) {
	for _, r := range rs {
		if r != nil {
			r.Report(ctx, batch, mode, results, stats)
		}
	}
}
