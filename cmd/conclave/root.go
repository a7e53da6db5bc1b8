package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/conclave/internal/config"
	"github.com/mtzanidakis/conclave/internal/events"
	"github.com/mtzanidakis/conclave/internal/natsbus"
	"github.com/mtzanidakis/conclave/internal/pipeline"
	"github.com/mtzanidakis/conclave/internal/registry"
	"github.com/mtzanidakis/conclave/internal/store"
	"github.com/mtzanidakis/conclave/internal/swarm"
	"github.com/mtzanidakis/conclave/internal/telemetry"
	"github.com/mtzanidakis/conclave/internal/worker"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "Run agent tasks across worker sessions and merge their output",
	Long: `Conclave dispatches agent tasks to worker sessions in parallel, in
sequence, or as a research-then-draft hybrid, runs multi-phase pipelines
whose phases feed each other, and merges the outputs into a single report.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(os.Stderr, logVerbose, logJSON)
	},
}

var (
	logVerbose bool
	logJSON    bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&logVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON instead of text")
}

func setupLogging(w io.Writer, verbose, asJSON bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if asJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// engine holds everything a command needs to run tasks. Fields that a
// command does not ask for stay nil.
type engine struct {
	cfg    *config.Config
	models *registry.Registry
	store  *store.Store
	bus    *natsbus.Bus
	nats   *natsbus.Client
	runner *pipeline.Runner

	closers []func()
}

type engineOptions struct {
	history bool // record runs in the store
	bus     bool // start or connect to NATS even for the process backend
}

func loadConfig(overrides func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if overrides != nil {
		overrides(cfg)
	}
	return cfg, nil
}

func newEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (*engine, error) {
	e := &engine{cfg: cfg, models: registry.New(cfg.Models, cfg.DefaultModel)}

	if opts.bus || cfg.Worker.Backend == config.BackendNATS {
		if err := e.connectBus(); err != nil {
			e.Close()
			return nil, err
		}
	}

	session, err := e.session(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	inv := worker.NewInvoker(session, e.models, worker.WithMetrics(metrics))

	runnerOpts := []pipeline.Option{}
	if opts.history {
		db, err := store.New(cfg.Store)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("init store: %w", err)
		}
		e.store = db
		e.closers = append(e.closers, func() { db.Close() })
		runnerOpts = append(runnerOpts, pipeline.WithObserver(pipeline.NewHistory(db)))
	}
	if e.nats != nil {
		runnerOpts = append(runnerOpts, pipeline.WithObserver(events.NewPublisher(e.nats)))
	}

	e.runner = pipeline.NewRunner(swarm.NewDispatcher(inv, cfg.Engine), runnerOpts...)
	return e, nil
}

// connectBus dials nats.url when set and otherwise starts an embedded
// server on nats.port.
func (e *engine) connectBus() error {
	if e.cfg.NATS.URL != "" {
		client, err := natsbus.NewClientFromURL(e.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		e.nats = client
		e.closers = append(e.closers, client.Close)
		slog.Info("connected to nats", "url", e.cfg.NATS.URL)
		return nil
	}

	bus, err := natsbus.New(e.cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	e.bus = bus
	e.closers = append(e.closers, bus.Close)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	e.nats = client
	e.closers = append(e.closers, client.Close)
	slog.Info("nats started", "url", bus.ClientURL())
	return nil
}

func (e *engine) session(ctx context.Context) (worker.Session, error) {
	switch e.cfg.Worker.Backend {
	case config.BackendNATS:
		return worker.NewNATSSession(e.nats, e.cfg.Worker.SubjectPrefix), nil
	case config.BackendContainer:
		cs, err := worker.NewContainerSession(e.cfg.Worker)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { cs.Close() })
		if err := cs.EnsureImage(ctx); err != nil {
			return nil, err
		}
		return cs, nil
	default:
		return worker.NewProcessSession(e.cfg.Worker), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
