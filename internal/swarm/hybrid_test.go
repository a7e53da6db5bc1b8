package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRunHybrid(t *testing.T) {
	spy := newSpy()
	spy.fn = func(task AgentTask) (string, error) {
		if task.Label == "research_2" {
			return "", errors.New("timeout")
		}
		return "finding from " + task.Label, nil
	}
	d := NewDispatcher(spy, engine(2, true))

	res, err := d.RunHybrid(context.Background(), HybridRequest{
		Research: []AgentTask{
			{Task: "look at A", Model: "fast"},
			{Task: "look at B", Model: "fast"},
			{Task: "look at C", Model: "fast"},
		},
		DraftTemplate: "Write the article.\n\nResearch:\n" + ResearchPlaceholder,
		Draft:         AgentTask{Model: "deep", Role: "writer"},
		NumDrafts:     3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Research) != 3 || len(res.Drafts) != 3 {
		t.Fatalf("expected 3 research and 3 drafts, got %d and %d", len(res.Research), len(res.Drafts))
	}
	if res.ResearchRound != (RoundStats{Succeeded: 2, Total: 3}) {
		t.Errorf("unexpected research round stats: %+v", res.ResearchRound)
	}
	if res.DraftRound != (RoundStats{Succeeded: 3, Total: 3}) {
		t.Errorf("unexpected draft round stats: %+v", res.DraftRound)
	}
	if spy.peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent invocations, saw %d", spy.peak.Load())
	}

	for i, d := range res.Drafts {
		want := "draft_" + string(rune('1'+i))
		if d.Label != want {
			t.Errorf("expected label %s, got %s", want, d.Label)
		}
		text := spy.text(d.Label)
		if !strings.Contains(text, "finding from research_1") || !strings.Contains(text, "finding from research_3") {
			t.Errorf("draft %s missing research digest: %q", d.Label, text)
		}
		if strings.Contains(text, ResearchPlaceholder) {
			t.Errorf("draft %s still contains placeholder", d.Label)
		}
		if strings.Contains(text, "timeout") {
			t.Errorf("failed research should not be in the digest: %q", text)
		}
	}
	if res.Stats.SuccessCount != 5 || res.Stats.FailureCount != 1 {
		t.Errorf("unexpected combined stats: %+v", res.Stats)
	}
}

func TestRunHybridValidation(t *testing.T) {
	spy := newSpy()
	d := NewDispatcher(spy, engine(2, true))
	research := []AgentTask{{Task: "r"}}

	tests := []struct {
		name string
		req  HybridRequest
	}{
		{"no placeholder", HybridRequest{Research: research, DraftTemplate: "draft", NumDrafts: 1}},
		{"two placeholders", HybridRequest{Research: research, DraftTemplate: ResearchPlaceholder + ResearchPlaceholder, NumDrafts: 1}},
		{"no drafts", HybridRequest{Research: research, DraftTemplate: ResearchPlaceholder, NumDrafts: 0}},
		{"no research", HybridRequest{DraftTemplate: ResearchPlaceholder, NumDrafts: 1}},
		{"bad draft timeout", HybridRequest{Research: research, DraftTemplate: ResearchPlaceholder, NumDrafts: 1, Draft: AgentTask{TimeoutSeconds: -5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.RunHybrid(context.Background(), tt.req); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
	if spy.calls.Load() != 0 {
		t.Errorf("expected no dispatches, got %d", spy.calls.Load())
	}
}

func TestRunHybridRoundHooks(t *testing.T) {
	spy := newSpy()
	d := NewDispatcher(spy, engine(2, true))

	var rounds []string
	hooks := RoundHooks{
		Started: func(round string, tasks int) {
			rounds = append(rounds, fmt.Sprintf("start %s %d calls=%d", round, tasks, spy.calls.Load()))
		},
		Completed: func(round string, results []TaskResult) {
			rounds = append(rounds, fmt.Sprintf("done %s %d calls=%d", round, len(results), spy.calls.Load()))
		},
	}
	_, err := d.RunHybridRounds(context.Background(), HybridRequest{
		Research:      []AgentTask{{Task: "a"}, {Task: "b"}},
		DraftTemplate: ResearchPlaceholder,
		NumDrafts:     3,
	}, hooks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"start research 2 calls=0",
		"done research 2 calls=2",
		"start drafts 3 calls=2",
		"done drafts 3 calls=5",
	}
	if strings.Join(rounds, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, rounds)
	}
}
