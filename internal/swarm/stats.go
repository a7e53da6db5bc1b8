package swarm

import (
	"fmt"
	"time"
)

type Stats struct {
	SuccessCount   int   `json:"success_count"`
	FailureCount   int   `json:"failure_count"`
	TotalElapsedMs int64 `json:"total_elapsed_ms"`
	AvgElapsedMs   int64 `json:"avg_elapsed_ms"`
}

// Summarize computes batch telemetry. Parallel tasks overlap, so their
// total is the slowest task; sequential and hybrid totals are the sum.
func Summarize(results []TaskResult, mode Mode) Stats {
	var s Stats
	var sum, longest int64
	for _, r := range results {
		if r.Success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		sum += r.ElapsedMs
		if r.ElapsedMs > longest {
			longest = r.ElapsedMs
		}
	}

	if mode == ModeParallel {
		s.TotalElapsedMs = longest
	} else {
		s.TotalElapsedMs = sum
	}
	if n := len(results); n > 0 {
		s.AvgElapsedMs = sum / int64(n)
	}
	return s
}

func (s Stats) Total() int {
	return s.SuccessCount + s.FailureCount
}

func (s Stats) String() string {
	total := time.Duration(s.TotalElapsedMs) * time.Millisecond
	avg := time.Duration(s.AvgElapsedMs) * time.Millisecond
	return fmt.Sprintf("%d/%d succeeded, %d failed, total %s, avg %s",
		s.SuccessCount, s.Total(), s.FailureCount, total, avg)
}
