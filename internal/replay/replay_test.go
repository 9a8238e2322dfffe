package replay

import (
	"strings"
	"testing"

	"github.com/openclaw/aishell/internal/state"
)

func trailManager(t *testing.T) *state.Manager {
	t.Helper()
	store, err := state.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr := state.NewManager(store)

	if _, err := mgr.SaveCheckpoint("t-1", "plan_created", map[string]any{"steps": 2}); err != nil {
		t.Fatal(err)
	}
	mgr.LogEvent("t-1", "step_start", map[string]any{"step": 0, "tool": "estimate_size"})
	mgr.LogEvent("t-1", "step_end", map[string]any{"step": 0, "ok": true})
	if _, err := mgr.SaveCheckpoint("t-1", "step_0_completed", map[string]any{"step": 0}); err != nil {
		t.Fatal(err)
	}
	mgr.LogEvent("t-1", "approval_requested", map[string]any{"step": 1, "tool": "execute_migration"})
	mgr.LogEvent("t-1", "approval_resolved", map[string]any{"step": 1, "approved": false})
	mgr.LogEvent("t-1", "task_failed", map[string]any{"error": "approval rejected"})
	return mgr
}

func TestReplay_Timeline(t *testing.T) {
	mgr := trailManager(t)
	var buf strings.Builder
	r := New(&buf, mgr)

	if err := r.Replay("t-1"); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"TASK", "t-1",
		"TIMELINE",
		"plan_created",
		"step_0_completed",
		"APPROVAL_REQUESTED",
		"FAILED",
		"STATS",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestReplay_UnknownTask(t *testing.T) {
	mgr := trailManager(t)
	var buf strings.Builder
	r := New(&buf, mgr)
	if err := r.Replay("no-such-task"); err == nil {
		t.Fatal("expected error for empty trail")
	}
}

func TestReplay_VerboseIncludesPayload(t *testing.T) {
	mgr := trailManager(t)
	var buf strings.Builder
	r := New(&buf, mgr, WithVerbose())

	if err := r.Replay("t-1"); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\"steps\"") {
		t.Error("verbose output missing checkpoint payload")
	}
}

func TestComputeStats(t *testing.T) {
	mgr := trailManager(t)
	cps, err := mgr.TaskCheckpoints("t-1")
	if err != nil {
		t.Fatal(err)
	}
	evs, err := mgr.Events("t-1")
	if err != nil {
		t.Fatal(err)
	}

	s := ComputeStats(cps, evs)
	if s.Checkpoints != 2 {
		t.Errorf("checkpoints = %d", s.Checkpoints)
	}
	if s.StepsExecuted != 1 {
		t.Errorf("steps = %d", s.StepsExecuted)
	}
	if s.ApprovalRequests != 1 || s.ApprovalsRejected != 1 {
		t.Errorf("approvals = %d/%d", s.ApprovalRequests, s.ApprovalsRejected)
	}
}

func TestWrapContent(t *testing.T) {
	long := "  1 12:00:00.000 │ CHECKPOINT " + strings.Repeat("x", 200)
	wrapped := wrapContent(long, 80)
	for _, line := range strings.Split(wrapped, "\n") {
		if len(line) > 240 { // generous bound; wrapped lines must not stay at 200+
			t.Errorf("line not wrapped: %d chars", len(line))
		}
	}
	if !strings.Contains(wrapped, "\n") {
		t.Error("long table row was not wrapped")
	}

	if got := wrapContent("short", 80); got != "short" {
		t.Errorf("short line altered: %q", got)
	}
}
