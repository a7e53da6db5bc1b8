package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine       EngineConfig      `yaml:"engine"`
	Worker       WorkerConfig      `yaml:"worker"`
	Models       map[string]string `yaml:"models"`
	DefaultModel string            `yaml:"default_model"`
	NATS         NATSConfig        `yaml:"nats"`
	Store        StoreConfig       `yaml:"store"`
	Web          WebConfig         `yaml:"web"`
	Scheduler    SchedulerConfig   `yaml:"scheduler"`
	Schedules    []ScheduleConfig  `yaml:"schedules"`
}

// EngineConfig is set once when the dispatcher is constructed.
type EngineConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	ContinueOnError bool          `yaml:"continue_on_error"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	DefaultEffort   string        `yaml:"default_effort"`
}

type WorkerConfig struct {
	Backend       string   `yaml:"backend"` // process, nats, container
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	Image         string   `yaml:"image"`
	SubjectPrefix string   `yaml:"subject_prefix"`
}

type NATSConfig struct {
	Port int    `yaml:"port"`
	URL  string `yaml:"url"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ScheduleConfig runs a pipeline file whenever its cron expression is due.
type ScheduleConfig struct {
	Name     string `yaml:"name"`
	Cron     string `yaml:"cron"`
	Pipeline string `yaml:"pipeline"`
}

const (
	BackendProcess   = "process"
	BackendNATS      = "nats"
	BackendContainer = "container"
)

// DefaultEngine returns the engine settings used when nothing overrides them.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		MaxConcurrent:   5,
		ContinueOnError: true,
		DefaultTimeout:  300 * time.Second,
		DefaultEffort:   "off",
	}
}

func defaults() Config {
	return Config{
		Engine: DefaultEngine(),
		Worker: WorkerConfig{
			Backend:       BackendProcess,
			Command:       "claude",
			Args:          []string{"-p", "--model", "{model}"},
			Image:         "conclave-worker:latest",
			SubjectPrefix: "worker",
		},
		Models: map[string]string{},
		NATS: NATSConfig{
			Port: 4222,
		},
		Store: StoreConfig{
			Path: "data/conclave.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONCLAVE_CONFIG")
	if path == "" {
		path = "config/conclave.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine.max_concurrent must be positive, got %d", c.Engine.MaxConcurrent)
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.default_timeout must be positive, got %s", c.Engine.DefaultTimeout)
	}
	switch c.Engine.DefaultEffort {
	case "", "off", "low", "medium", "high":
	default:
		return fmt.Errorf("engine.default_effort must be off, low, medium or high, got %q", c.Engine.DefaultEffort)
	}
	switch c.Worker.Backend {
	case BackendProcess, BackendNATS, BackendContainer:
	default:
		return fmt.Errorf("unknown worker backend %q", c.Worker.Backend)
	}
	for _, s := range c.Schedules {
		if s.Name == "" || s.Cron == "" || s.Pipeline == "" {
			return fmt.Errorf("schedule entries need name, cron and pipeline")
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONCLAVE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CONCLAVE_CONTINUE_ON_ERROR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.ContinueOnError = b
		}
	}
	if v := os.Getenv("CONCLAVE_WORKER_BACKEND"); v != "" {
		cfg.Worker.Backend = v
	}
	if v := os.Getenv("CONCLAVE_WORKER_COMMAND"); v != "" {
		cfg.Worker.Command = v
	}
	if v := os.Getenv("CONCLAVE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CONCLAVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONCLAVE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_WEB_TOKEN"); v != "" {
		cfg.Web.Auth = v
	}
}
