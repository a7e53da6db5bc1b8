// Package pipeline runs declarative multi-phase pipelines on top of the
// swarm dispatcher. The dispatcher knows nothing about phases; the runner
// composes earlier phase reports into later task text.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mtzanidakis/conclave/internal/swarm"
)

var (
	ErrNoPhases         = fmt.Errorf("%w: pipeline has no phases", swarm.ErrConfig)
	ErrEmptyPhase       = fmt.Errorf("%w: phase has no agents", swarm.ErrConfig)
	ErrDuplicatePhase   = fmt.Errorf("%w: duplicate phase name", swarm.ErrConfig)
	ErrUnknownPhase     = fmt.Errorf("%w: depends_on names an undeclared phase", swarm.ErrConfig)
	ErrForwardReference = fmt.Errorf("%w: depends_on names a phase that has not run yet", swarm.ErrConfig)
)

// Preparer fills in task defaults and validates a batch before dispatch.
type Preparer interface {
	Prepare(tasks []swarm.AgentTask) ([]swarm.AgentTask, error)
}

// Step is a validated phase whose agents are ready to dispatch.
type Step struct {
	Name        string
	Mode        swarm.Mode
	Aggregation swarm.Aggregation
	DependsOn   []string
	Agents      []swarm.AgentTask
}

type Plan struct {
	// ID becomes the run id when the plan is executed.
	ID          string
	Name        string
	Description string
	Steps       []Step
}

func (p *Plan) TaskCount() int {
	n := 0
	for _, s := range p.Steps {
		n += len(s.Agents)
	}
	return n
}

// BuildPlan checks the whole pipeline and prepares every phase's agents.
// Any problem is returned before a single task is dispatched.
func BuildPlan(p swarm.Pipeline, prep Preparer) (*Plan, error) {
	if len(p.Phases) == 0 {
		return nil, ErrNoPhases
	}

	declared := make(map[string]int, len(p.Phases))
	for i, ph := range p.Phases {
		if strings.TrimSpace(ph.Name) == "" {
			return nil, fmt.Errorf("%w: phase %d has no name", swarm.ErrConfig, i+1)
		}
		if _, ok := declared[ph.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePhase, ph.Name)
		}
		declared[ph.Name] = i
	}

	plan := &Plan{ID: uuid.New().String(), Name: p.Name, Description: p.Description, Steps: make([]Step, 0, len(p.Phases))}
	for i, ph := range p.Phases {
		mode := ph.Mode
		if mode == "" {
			mode = swarm.ModeParallel
		}
		if mode != swarm.ModeParallel && mode != swarm.ModeSequential {
			return nil, fmt.Errorf("%w: %q (phase %q)", swarm.ErrInvalidMode, mode, ph.Name)
		}
		agg, err := swarm.ParseAggregation(string(ph.Aggregation))
		if err != nil {
			return nil, fmt.Errorf("phase %q: %w", ph.Name, err)
		}

		deps := make([]string, 0, len(ph.DependsOn))
		seen := make(map[string]bool, len(ph.DependsOn))
		for _, dep := range ph.DependsOn {
			at, ok := declared[dep]
			if !ok {
				return nil, fmt.Errorf("%w: phase %q depends on %q", ErrUnknownPhase, ph.Name, dep)
			}
			if at >= i {
				return nil, fmt.Errorf("%w: phase %q depends on %q", ErrForwardReference, ph.Name, dep)
			}
			if !seen[dep] {
				seen[dep] = true
				deps = append(deps, dep)
			}
		}

		if len(ph.Agents) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptyPhase, ph.Name)
		}
		agents, err := prep.Prepare(ph.Agents)
		if err != nil {
			return nil, fmt.Errorf("phase %q: %w", ph.Name, err)
		}

		plan.Steps = append(plan.Steps, Step{
			Name:        ph.Name,
			Mode:        mode,
			Aggregation: agg,
			DependsOn:   deps,
			Agents:      agents,
		})
	}
	return plan, nil
}
