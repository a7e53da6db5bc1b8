package swarm

import (
	"fmt"
	"strings"
)

// NoOutputMarker stands in for the output of a failed predecessor so that
// downstream workers know context is missing.
const NoOutputMarker = "[no output available]"

// PhaseOutput is the aggregated report of an earlier pipeline phase.
type PhaseOutput struct {
	Phase  string
	Report string
	Failed bool // no task in the phase succeeded
}

// WithPriorOutput appends the previous sequential stage's result to task
// text under a delimited section.
func WithPriorOutput(task string, prev TaskResult) string {
	var sb strings.Builder
	sb.WriteString(task)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "--- PRIOR OUTPUT (%s) ---\n", prev.Label)
	if prev.Success {
		sb.WriteString(prev.Output)
	} else {
		fmt.Fprintf(&sb, "%s %s failed: %s", NoOutputMarker, prev.Label, prev.Error)
	}
	sb.WriteString("\n--- END PRIOR OUTPUT ---")
	return sb.String()
}

// WithPhaseOutputs prepends the reports of earlier phases to task text.
func WithPhaseOutputs(task string, outputs []PhaseOutput) string {
	if len(outputs) == 0 {
		return task
	}

	var sb strings.Builder
	for _, out := range outputs {
		fmt.Fprintf(&sb, "--- PRIOR PHASE OUTPUT: %s ---\n", out.Phase)
		if out.Failed {
			fmt.Fprintf(&sb, "[prior phase failed: %s produced no successful result]\n", out.Phase)
		}
		sb.WriteString(out.Report)
		fmt.Fprintf(&sb, "\n--- END PRIOR PHASE OUTPUT: %s ---\n\n", out.Phase)
	}
	sb.WriteString(task)
	return sb.String()
}

// ResearchDigest concatenates the successful outputs of a research round,
// each under its label. Failed results are left out.
func ResearchDigest(results []TaskResult) string {
	var parts []string
	for _, r := range results {
		if !r.Success {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n\n%s", r.Label, r.Output))
	}
	if len(parts) == 0 {
		return NoOutputMarker
	}
	return strings.Join(parts, "\n\n")
}
