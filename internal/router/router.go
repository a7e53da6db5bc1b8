// Package router recommends an execution mode for free-text task
// descriptions. It never dispatches anything; callers feed the chosen
// mode into the dispatcher themselves.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mtzanidakis/conclave/internal/swarm"
)

type Recommendation struct {
	Mode   swarm.Mode `json:"mode"`
	Reason string     `json:"reason"`
	// Task is the input with any explicit @mode prefix removed.
	Task string `json:"task"`
}

type signal struct {
	mode    swarm.Mode
	pattern *regexp.Regexp
	weight  int
}

func kw(mode swarm.Mode, weight int, expr string) signal {
	return signal{mode: mode, weight: weight, pattern: regexp.MustCompile(`(?i)\b(?:` + expr + `)\b`)}
}

var signals = []signal{
	kw(swarm.ModeSequential, 2, `step by step|one after another|followed by|after that|and then|then`),
	kw(swarm.ModeSequential, 1, `first|next|finally|refine|iterate|build on|pipeline|chain`),
	kw(swarm.ModeHybrid, 3, `research (?:and|then) (?:write|draft)`),
	kw(swarm.ModeHybrid, 2, `drafts?|variants?|versions|alternatives`),
	kw(swarm.ModeHybrid, 1, `research|investigate|gather|article|essay|report`),
	kw(swarm.ModeParallel, 2, `in parallel|independently|simultaneously|at the same time|side by side`),
	kw(swarm.ModeParallel, 1, `compare|each|every|multiple|several|brainstorm|perspectives|review`),
}

// Recommend picks a mode for text. An explicit @parallel, @sequential or
// @hybrid prefix wins; otherwise keyword signals are scored and the best
// mode is returned, parallel on a tie or with no signal at all.
func Recommend(text string) Recommendation {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "@") {
		head, rest, _ := strings.Cut(trimmed, " ")
		if mode, err := swarm.ParseMode(strings.ToLower(strings.TrimPrefix(head, "@"))); err == nil {
			return Recommendation{Mode: mode, Reason: "explicit " + head + " prefix", Task: strings.TrimSpace(rest)}
		}
	}

	scores := map[swarm.Mode]int{}
	matched := map[swarm.Mode][]string{}
	for _, s := range signals {
		for _, m := range s.pattern.FindAllString(trimmed, -1) {
			scores[s.mode] += s.weight
			matched[s.mode] = appendUnique(matched[s.mode], strings.ToLower(m))
		}
	}

	best := swarm.ModeParallel
	for _, mode := range []swarm.Mode{swarm.ModeSequential, swarm.ModeHybrid} {
		if scores[mode] > scores[best] {
			best = mode
		}
	}

	if scores[best] == 0 {
		return Recommendation{Mode: swarm.ModeParallel, Reason: "no ordering or drafting cues; tasks treated as independent", Task: trimmed}
	}

	words := matched[best]
	sort.Strings(words)
	return Recommendation{
		Mode:   best,
		Reason: fmt.Sprintf("matched %s cues: %s", best, strings.Join(words, ", ")),
		Task:   trimmed,
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
