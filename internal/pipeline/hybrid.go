package pipeline

import (
	"context"

	"github.com/mtzanidakis/conclave/internal/swarm"
)

// RunHybrid runs a research-then-draft request as a two-phase run. The
// research phase is reported concatenated, the drafts side by side.
func (r *Runner) RunHybrid(ctx context.Context, name string, req swarm.HybridRequest) (*Result, *swarm.HybridResult, error) {
	if err := r.dispatcher.CheckHybrid(req); err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = "hybrid"
	}

	res := r.start(ctx, "", name, KindHybrid, 2, len(req.Research)+req.NumDrafts)

	aggregations := map[string]swarm.Aggregation{
		swarm.RoundResearch: swarm.AggregateConcatenate,
		swarm.RoundDrafts:   swarm.AggregateCompare,
	}
	hooks := swarm.RoundHooks{
		Started: func(round string, tasks int) {
			for _, o := range r.observers {
				o.PhaseStarted(ctx, res.ID, round, swarm.ModeParallel, tasks)
			}
		},
		Completed: func(round string, results []swarm.TaskResult) {
			pr := PhaseResult{
				Name:        round,
				Mode:        swarm.ModeParallel,
				Aggregation: aggregations[round],
				Results:     results,
				Stats:       swarm.Summarize(results, swarm.ModeParallel),
			}
			pr.Report = swarm.Aggregate(results, pr.Aggregation, req.DraftTemplate)
			res.Phases = append(res.Phases, pr)

			r.reporter.Report(ctx, res.ID+"/"+round, swarm.ModeParallel, results, pr.Stats)
			for _, o := range r.observers {
				o.PhaseCompleted(ctx, res.ID, pr)
			}
		},
	}

	hr, err := r.dispatcher.RunHybridRounds(ctx, req, hooks)
	if err != nil {
		// CheckHybrid passed, so only a draft body that fails preparation
		// after substitution lands here.
		return r.finish(ctx, res), nil, err
	}
	return r.finish(ctx, res), hr, nil
}
