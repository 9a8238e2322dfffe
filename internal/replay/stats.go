package replay

import (
	"fmt"
	"io"
	"strings"

	"github.com/openclaw/aishell/internal/state"
)

// Stats summarizes a task's trail.
type Stats struct {
	Checkpoints       int
	Events            int
	StepsExecuted     int
	Retries           int
	ApprovalRequests  int
	ApprovalsRejected int
	StateTransitions  int
}

// ComputeStats derives trail statistics from checkpoints and events.
func ComputeStats(cps []*state.Checkpoint, evs []*state.Event) *Stats {
	s := &Stats{Checkpoints: len(cps), Events: len(evs)}
	for _, cp := range cps {
		if strings.HasSuffix(cp.Label, "_completed") && strings.HasPrefix(cp.Label, "step_") {
			s.StepsExecuted++
		}
	}
	stepAttempts := 0
	for _, ev := range evs {
		switch ev.Type {
		case "step_start":
			stepAttempts++
		case "approval_requested":
			s.ApprovalRequests++
		case "approval_resolved":
			if approved, ok := ev.Data["approved"].(bool); ok && !approved {
				s.ApprovalsRejected++
			}
		case "agent_state":
			s.StateTransitions++
		}
	}
	if stepAttempts > s.StepsExecuted {
		s.Retries = stepAttempts - s.StepsExecuted
	}
	return s
}

// PrintStats writes a compact statistics block.
func PrintStats(w io.Writer, s *Stats) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", titleStyle.Render("STATS"))
	row := func(label string, v int) {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-18s", label)), valueStyle.Render(fmt.Sprintf("%d", v)))
	}
	row("Checkpoints:", s.Checkpoints)
	row("Events:", s.Events)
	row("Steps executed:", s.StepsExecuted)
	if s.Retries > 0 {
		row("Retried attempts:", s.Retries)
	}
	if s.ApprovalRequests > 0 {
		row("Approvals asked:", s.ApprovalRequests)
		row("Approvals denied:", s.ApprovalsRejected)
	}
	row("State changes:", s.StateTransitions)
}
