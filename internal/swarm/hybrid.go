package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ResearchPlaceholder marks where the research digest goes in a draft
// template.
const ResearchPlaceholder = "{{research}}"

// HybridRequest describes a research-then-draft run. Draft carries the
// model, role, effort and timeout of every draft copy; its Task field is
// ignored in favour of DraftTemplate.
type HybridRequest struct {
	Research      []AgentTask
	DraftTemplate string
	Draft         AgentTask
	NumDrafts     int
}

// Hybrid round names, as reported to RoundHooks.
const (
	RoundResearch = "research"
	RoundDrafts   = "drafts"
)

// RoundHooks is notified at each hybrid round boundary. Either field may
// be nil.
type RoundHooks struct {
	Started   func(round string, tasks int)
	Completed func(round string, results []TaskResult)
}

func (h RoundHooks) started(round string, tasks int) {
	if h.Started != nil {
		h.Started(round, tasks)
	}
}

func (h RoundHooks) completed(round string, results []TaskResult) {
	if h.Completed != nil {
		h.Completed(round, results)
	}
}

type RoundStats struct {
	Succeeded int `json:"succeeded"`
	Total     int `json:"total"`
}

type HybridResult struct {
	Research      []TaskResult `json:"research"`
	Drafts        []TaskResult `json:"drafts"`
	ResearchRound RoundStats   `json:"research_round"`
	DraftRound    RoundStats   `json:"draft_round"`
	Stats         Stats        `json:"stats"`
}

func (r *HybridResult) All() []TaskResult {
	all := make([]TaskResult, 0, len(r.Research)+len(r.Drafts))
	all = append(all, r.Research...)
	return append(all, r.Drafts...)
}

func validateHybrid(req HybridRequest) error {
	if len(req.Research) == 0 {
		return fmt.Errorf("%w: hybrid run needs at least one research task", ErrConfig)
	}
	if req.NumDrafts <= 0 {
		return fmt.Errorf("%w: num_drafts must be positive, got %d", ErrConfig, req.NumDrafts)
	}
	if strings.Count(req.DraftTemplate, ResearchPlaceholder) != 1 {
		return ErrDraftTemplate
	}
	return nil
}

// CheckHybrid reports the configuration error RunHybrid would return
// without dispatching anything.
func (d *Dispatcher) CheckHybrid(req HybridRequest) error {
	_, err := d.checkHybrid(req)
	return err
}

func (d *Dispatcher) checkHybrid(req HybridRequest) ([]AgentTask, error) {
	if err := validateHybrid(req); err != nil {
		return nil, err
	}

	research, err := d.prepare(req.Research, "research")
	if err != nil {
		return nil, err
	}

	// The draft body is only known after round one; probe the task shape
	// with the template so a bad model or timeout fails up front.
	draftProbe := req.Draft
	draftProbe.Task = req.DraftTemplate
	if _, err := d.prepare([]AgentTask{draftProbe}, "draft"); err != nil {
		return nil, err
	}
	return research, nil
}

// RunHybrid dispatches the research tasks in parallel, substitutes the
// digest of their successful outputs into the draft template and then
// dispatches NumDrafts independent copies of the draft in parallel. Both
// rounds share the dispatcher's pool.
func (d *Dispatcher) RunHybrid(ctx context.Context, req HybridRequest) (*HybridResult, error) {
	return d.RunHybridRounds(ctx, req, RoundHooks{})
}

// RunHybridRounds is RunHybrid with hooks called as each round starts
// and finishes.
func (d *Dispatcher) RunHybridRounds(ctx context.Context, req HybridRequest, hooks RoundHooks) (*HybridResult, error) {
	research, err := d.checkHybrid(req)
	if err != nil {
		return nil, err
	}

	slog.Info("hybrid round 1: research", "tasks", len(research))
	hooks.started(RoundResearch, len(research))
	researchStart := time.Now()
	researchResults := d.runParallel(ctx, research)
	researchWall := time.Since(researchStart)
	hooks.completed(RoundResearch, researchResults)

	digest := ResearchDigest(researchResults)
	body := strings.Replace(req.DraftTemplate, ResearchPlaceholder, digest, 1)

	drafts := make([]AgentTask, req.NumDrafts)
	for i := range drafts {
		t := req.Draft
		t.Label = ""
		t.SessionID = ""
		t.Task = fmt.Sprintf("%s\n\n(Draft variant %d of %d: work independently and take your own approach.)", body, i+1, req.NumDrafts)
		drafts[i] = t
	}
	drafts, err = d.prepare(drafts, "draft")
	if err != nil {
		return nil, err
	}

	slog.Info("hybrid round 2: drafts", "drafts", len(drafts))
	hooks.started(RoundDrafts, len(drafts))
	draftStart := time.Now()
	draftResults := d.runParallel(ctx, drafts)
	draftWall := time.Since(draftStart)
	hooks.completed(RoundDrafts, draftResults)

	res := &HybridResult{
		Research:      researchResults,
		Drafts:        draftResults,
		ResearchRound: roundStats(researchResults),
		DraftRound:    roundStats(draftResults),
	}
	res.Stats = Summarize(res.All(), ModeHybrid)
	res.Stats.TotalElapsedMs = (researchWall + draftWall).Milliseconds()
	return res, nil
}

func roundStats(results []TaskResult) RoundStats {
	rs := RoundStats{Total: len(results)}
	for _, r := range results {
		if r.Success {
			rs.Succeeded++
		}
	}
	return rs
}
