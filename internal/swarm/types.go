package swarm

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfig is wrapped by every error that rejects input before dispatch.
var ErrConfig = errors.New("configuration error")

var (
	ErrDuplicateLabel     = fmt.Errorf("%w: duplicate label", ErrConfig)
	ErrInvalidTimeout     = fmt.Errorf("%w: timeout must be positive", ErrConfig)
	ErrEmptyTask          = fmt.Errorf("%w: task text is required", ErrConfig)
	ErrInvalidEffort      = fmt.Errorf("%w: invalid effort", ErrConfig)
	ErrInvalidMode        = fmt.Errorf("%w: invalid mode", ErrConfig)
	ErrInvalidAggregation = fmt.Errorf("%w: invalid aggregation", ErrConfig)
	ErrDraftTemplate      = fmt.Errorf("%w: draft template must contain %s exactly once", ErrConfig, ResearchPlaceholder)
)

const DefaultTimeoutSeconds = 300

type Effort string

const (
	EffortOff    Effort = "off"
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

func (e Effort) Valid() bool {
	switch e {
	case EffortOff, EffortLow, EffortMedium, EffortHigh:
		return true
	}
	return false
}

type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
	ModeHybrid     Mode = "hybrid"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeParallel, ModeSequential, ModeHybrid:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type Aggregation string

const (
	AggregateSynthesize  Aggregation = "synthesize"
	AggregateConcatenate Aggregation = "concatenate"
	AggregateCompare     Aggregation = "compare"
	AggregateLast        Aggregation = "last"
)

func ParseAggregation(s string) (Aggregation, error) {
	if s == "" {
		return AggregateSynthesize, nil
	}
	switch a := Aggregation(s); a {
	case AggregateSynthesize, AggregateConcatenate, AggregateCompare, AggregateLast:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAggregation, s)
}

// AgentTask is one unit of work handed to a worker session.
type AgentTask struct {
	Task           string `json:"task" yaml:"task"`
	Model          string `json:"model" yaml:"model"`
	Role           string `json:"role" yaml:"role"`
	Label          string `json:"label,omitempty" yaml:"label,omitempty"`
	Effort         Effort `json:"effort,omitempty" yaml:"effort,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	SessionID      string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

func (t AgentTask) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// TaskResult is the outcome of one AgentTask. Exactly one of Output and
// Error is set.
type TaskResult struct {
	Label     string `json:"label"`
	Model     string `json:"model"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

func Succeeded(task AgentTask, output string, elapsed time.Duration) TaskResult {
	return TaskResult{
		Label:     task.Label,
		Model:     task.Model,
		Success:   true,
		Output:    output,
		ElapsedMs: elapsed.Milliseconds(),
	}
}

func Failed(task AgentTask, reason string, elapsed time.Duration) TaskResult {
	if reason == "" {
		reason = "unknown error"
	}
	return TaskResult{
		Label:     task.Label,
		Model:     task.Model,
		Success:   false,
		Error:     reason,
		ElapsedMs: elapsed.Milliseconds(),
	}
}

// Phase is one dispatch step of a Pipeline.
type Phase struct {
	Name        string      `json:"name" yaml:"name"`
	Mode        Mode        `json:"mode" yaml:"mode"`
	Agents      []AgentTask `json:"agents" yaml:"agents"`
	DependsOn   []string    `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Aggregation Aggregation `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
}

type Pipeline struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Phases      []Phase `json:"phases" yaml:"phases"`
}
