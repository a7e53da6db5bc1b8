// Package scheduler runs pipeline files on cron schedules taken from the
// configuration. Schedule state lives in the store so a restart neither
// skips nor repeats a due run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/conclave/internal/config"
	"github.com/mtzanidakis/conclave/internal/pipeline"
	"github.com/mtzanidakis/conclave/internal/store"
	"github.com/mtzanidakis/conclave/internal/swarm"
)

type PipelineRunner interface {
	Run(ctx context.Context, p swarm.Pipeline) (*pipeline.Result, error)
}

type Scheduler struct {
	store        *store.Store
	runner       PipelineRunner
	schedules    []config.ScheduleConfig
	pollInterval time.Duration
	load         func(path string) (swarm.Pipeline, error)
}

func New(s *store.Store, runner PipelineRunner, cfg config.SchedulerConfig, schedules []config.ScheduleConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		schedules:    schedules,
		pollInterval: cfg.PollInterval,
		load:         pipeline.LoadFile,
	}
}

// Sync writes the configured schedules to the store and drops stored
// schedules that are no longer configured.
func (s *Scheduler) Sync() error {
	now := time.Now()
	names := make([]string, 0, len(s.schedules))
	for _, sc := range s.schedules {
		next, err := NextRun(sc.Cron, now)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		if err := s.store.SyncSchedule(&store.Schedule{Name: sc.Name, Cron: sc.Cron, Pipeline: sc.Pipeline, NextRunAt: &next}); err != nil {
			return err
		}
		names = append(names, sc.Name)
	}
	if err := s.store.PruneSchedules(names); err != nil {
		return fmt.Errorf("prune schedules: %w", err)
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval, "schedules", len(s.schedules))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueSchedules(time.Now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sc := range due {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, sc)
	}
}

func (s *Scheduler) execute(ctx context.Context, sc store.Schedule) {
	slog.Info("executing scheduled pipeline", "schedule", sc.Name, "pipeline", sc.Pipeline)

	var runID, lastStatus, lastError string
	res, err := s.runFile(ctx, sc.Pipeline)
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled pipeline failed", "schedule", sc.Name, "error", err)
	} else {
		runID = res.ID
		lastStatus = store.RunStatus(res.Stats.SuccessCount, res.Stats.FailureCount)
	}

	var nextRun *time.Time
	if next, err := NextRun(sc.Cron, time.Now()); err != nil {
		slog.Error("failed to compute next run", "schedule", sc.Name, "error", err)
	} else {
		nextRun = &next
	}

	if err := s.store.UpdateScheduleRun(sc.Name, lastStatus, lastError, runID, nextRun); err != nil {
		slog.Error("failed to update schedule run", "schedule", sc.Name, "error", err)
	}
}

func (s *Scheduler) runFile(ctx context.Context, path string) (*pipeline.Result, error) {
	p, err := s.load(path)
	if err != nil {
		return nil, err
	}
	res, err := s.runner.Run(ctx, p)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("runner returned no result")
	}
	return res, nil
}
