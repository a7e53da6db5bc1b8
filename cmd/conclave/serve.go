package main

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/mtzanidakis/conclave/internal/config"
	"github.com/mtzanidakis/conclave/internal/scheduler"
	"github.com/mtzanidakis/conclave/internal/web"
	"github.com/mtzanidakis/conclave/internal/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, event bus and pipeline scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		slog.Info("starting conclave", "version", version, "backend", cfg.Worker.Backend)

		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEngine(ctx, cfg, engineOptions{history: true, bus: true})
		if err != nil {
			return err
		}
		defer e.Close()

		sched := scheduler.New(e.store, e.runner, cfg.Scheduler, cfg.Schedules)
		if err := sched.Sync(); err != nil {
			return fmt.Errorf("sync schedules: %w", err)
		}
		go sched.Start(ctx)

		if !cfg.Web.Enabled {
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		}

		srv := web.NewServer(e.store, e.runner, e.nats, cfg.Web, version)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		slog.Info("shutting down")
		return nil
	},
}

var workerBackends []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Answer worker requests from the bus with the local worker command",
	Long: `Worker connects to nats.url and serves invoke requests for the given
backends by running the configured worker command locally. Several worker
processes serving the same backend share the load.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		if cfg.NATS.URL == "" {
			return errors.New("worker needs nats.url to be set")
		}

		backends := workerBackends
		if len(backends) == 0 {
			backends = configuredBackends(cfg)
		}
		if len(backends) == 0 {
			return errors.New("no backends to serve: pass --backend or configure models")
		}

		ctx, cancel := signalContext()
		defer cancel()

		e := &engine{cfg: cfg}
		defer e.Close()
		if err := e.connectBus(); err != nil {
			return err
		}

		local := worker.NewProcessSession(cfg.Worker)
		for _, b := range backends {
			if _, err := worker.Serve(ctx, e.nats, cfg.Worker.SubjectPrefix, b, local); err != nil {
				return err
			}
		}

		<-ctx.Done()
		slog.Info("worker stopping")
		return nil
	},
}

// configuredBackends returns the distinct backend ids of the model table
// in alias order.
func configuredBackends(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var out []string
	for _, alias := range slices.Sorted(maps.Keys(cfg.Models)) {
		b := cfg.Models[alias]
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd)
	workerCmd.Flags().StringArrayVar(&workerBackends, "backend", nil, "Backend id to serve (repeatable, default every configured backend)")
}
