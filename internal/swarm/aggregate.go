package swarm

import (
	"fmt"
	"strings"
)

// NoSuccessMarker is returned by the last strategy when nothing succeeded.
const NoSuccessMarker = "[no successful result]"

// Aggregate collapses results into one report. It is a pure function of
// its inputs.
func Aggregate(results []TaskResult, mode Aggregation, originalTask string) string {
	switch mode {
	case AggregateConcatenate:
		return concatenate(results)
	case AggregateLast:
		return last(results)
	case AggregateCompare:
		return compare(results)
	default:
		return synthesize(results, originalTask)
	}
}

func concatenate(results []TaskResult) string {
	var sb strings.Builder
	ok := 0
	for _, r := range results {
		if !r.Success {
			continue
		}
		if ok > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s\n\n%s", r.Label, r.Output)
		ok++
	}
	if ok == 0 {
		fmt.Fprintf(&sb, "No task succeeded (%d failed).", len(results))
	}

	if failed := failedLabels(results); len(failed) > 0 {
		sb.WriteString("\n\n---\nFailed tasks: ")
		sb.WriteString(strings.Join(failed, ", "))
	}
	return sb.String()
}

func last(results []TaskResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Success {
			return results[i].Output
		}
	}
	return NoSuccessMarker
}

func compare(results []TaskResult) string {
	var sb strings.Builder
	n := 0
	for _, r := range results {
		if !r.Success {
			continue
		}
		n++
		if n > 1 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "=== Attempt %d: %s", n, r.Label)
		if r.Model != "" {
			fmt.Fprintf(&sb, " (%s)", r.Model)
		}
		sb.WriteString(" ===\n\n")
		sb.WriteString(r.Output)
	}
	if n == 0 {
		fmt.Fprintf(&sb, "No attempt succeeded (%d failed).", len(results))
	}

	if failed := failedLabels(results); len(failed) > 0 {
		sb.WriteString("\n\n---\nFailed attempts: ")
		sb.WriteString(strings.Join(failed, ", "))
	}
	return sb.String()
}

func synthesize(results []TaskResult, originalTask string) string {
	var sb strings.Builder
	sb.WriteString("# Synthesis Report\n\n")
	if originalTask != "" {
		fmt.Fprintf(&sb, "Original task: %s\n\n", originalTask)
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	fmt.Fprintf(&sb, "%d of %d agents produced output.\n", ok, len(results))

	for _, r := range results {
		if !r.Success {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s", r.Label)
		if r.Model != "" {
			fmt.Fprintf(&sb, " (%s)", r.Model)
		}
		fmt.Fprintf(&sb, "\n\n%s\n", r.Output)
	}

	if ok < len(results) {
		sb.WriteString("\n## Failed Agents\n\n")
		for _, r := range results {
			if !r.Success {
				fmt.Fprintf(&sb, "- %s: %s\n", r.Label, r.Error)
			}
		}
	}

	if ok == 0 {
		sb.WriteString("\nNote: every agent failed; there is nothing to compose.")
	} else {
		sb.WriteString("\nNote: the sections above are unmerged agent outputs; compose the final answer from them.")
	}
	return sb.String()
}

func failedLabels(results []TaskResult) []string {
	var out []string
	for _, r := range results {
		if !r.Success {
			out = append(out, r.Label)
		}
	}
	return out
}
