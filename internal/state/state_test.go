package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return NewManager(store)
}

func TestSaveCheckpoint_SequenceMonotonic(t *testing.T) {
	m := newTestManager(t)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := m.SaveCheckpoint("task-1", fmt.Sprintf("step_%d_completed", i), map[string]any{"step": i})
		if err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
		ids = append(ids, id)
	}

	cps, err := m.TaskCheckpoints("task-1")
	if err != nil {
		t.Fatalf("TaskCheckpoints failed: %v", err)
	}
	if len(cps) != 5 {
		t.Fatalf("expected 5 checkpoints, got %d", len(cps))
	}
	for i, cp := range cps {
		if cp.Sequence != uint64(i+1) {
			t.Errorf("checkpoint %d has sequence %d, want %d", i, cp.Sequence, i+1)
		}
		if cp.ID != ids[i] {
			t.Errorf("checkpoint %d id mismatch", i)
		}
	}
}

func TestSaveCheckpoint_ConcurrentGapFree(t *testing.T) {
	m := newTestManager(t)

	const tasks = 4
	const perTask = 20
	var wg sync.WaitGroup
	for tn := 0; tn < tasks; tn++ {
		taskID := fmt.Sprintf("task-%d", tn)
		for i := 0; i < perTask; i++ {
			wg.Add(1)
			go func(taskID string, i int) {
				defer wg.Done()
				if _, err := m.SaveCheckpoint(taskID, "step", map[string]any{"n": i}); err != nil {
					t.Errorf("SaveCheckpoint failed: %v", err)
				}
			}(taskID, i)
		}
	}
	wg.Wait()

	for tn := 0; tn < tasks; tn++ {
		taskID := fmt.Sprintf("task-%d", tn)
		cps, err := m.TaskCheckpoints(taskID)
		if err != nil {
			t.Fatalf("TaskCheckpoints failed: %v", err)
		}
		if len(cps) != perTask {
			t.Fatalf("%s: expected %d checkpoints, got %d", taskID, perTask, len(cps))
		}
		for i, cp := range cps {
			if cp.Sequence != uint64(i+1) {
				t.Fatalf("%s: sequence gap at %d: got %d", taskID, i, cp.Sequence)
			}
		}
	}
}

func TestLatestCheckpoint(t *testing.T) {
	m := newTestManager(t)

	latest, err := m.LatestCheckpoint("empty-task")
	if err != nil {
		t.Fatalf("LatestCheckpoint failed: %v", err)
	}
	if latest != nil {
		t.Fatal("expected nil for task with no checkpoints")
	}

	m.SaveCheckpoint("task-1", "plan_created", map[string]any{"plan": []string{"a"}})
	m.SaveCheckpoint("task-1", "step_0_completed", map[string]any{"ok": true})

	latest, err = m.LatestCheckpoint("task-1")
	if err != nil {
		t.Fatalf("LatestCheckpoint failed: %v", err)
	}
	if latest.Label != "step_0_completed" || latest.Sequence != 2 {
		t.Errorf("wrong latest checkpoint: %s seq=%d", latest.Label, latest.Sequence)
	}
}

func TestRestore(t *testing.T) {
	m := newTestManager(t)

	id, err := m.SaveCheckpoint("task-1", "plan_created", map[string]any{"steps": 3})
	if err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	payload, err := m.Restore(id)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded["steps"] != float64(3) {
		t.Errorf("wrong payload: %v", decoded)
	}

	_, err = m.Restore("no-such-id")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	m := NewManager(store)
	m.SaveCheckpoint("task-1", "plan_created", nil)
	m.SaveCheckpoint("task-1", "step_0_completed", nil)

	// Simulate a restart: a fresh store and manager over the same directory.
	store2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	m2 := NewManager(store2)
	id, err := m2.SaveCheckpoint("task-1", "step_1_completed", nil)
	if err != nil {
		t.Fatalf("SaveCheckpoint after reopen failed: %v", err)
	}
	cp, err := m2.GetCheckpoint(id)
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if cp.Sequence != 3 {
		t.Errorf("expected sequence 3 after reopen, got %d", cp.Sequence)
	}
}

func TestListCheckpointsOrder(t *testing.T) {
	m := newTestManager(t)
	var want []string
	for i := 0; i < 3; i++ {
		id, _ := m.SaveCheckpoint("task-1", fmt.Sprintf("step_%d_completed", i), nil)
		want = append(want, id)
	}

	got, err := m.ListCheckpoints("task-1")
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("id %d out of order", i)
		}
	}
}

func TestLogEventAndReadBack(t *testing.T) {
	m := newTestManager(t)

	m.LogEvent("task-1", "agent_state", map[string]any{"state": "planning"})
	m.LogEvent("task-1", "step_start", map[string]any{"step": 0, "tool": "full_backup"})

	events, err := m.Events("task-1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "agent_state" || events[1].Type != "step_start" {
		t.Errorf("events out of order: %s, %s", events[0].Type, events[1].Type)
	}
}

func TestFileStore_PayloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	m := NewManager(store)

	payload := map[string]any{
		"plan": []any{map[string]any{"tool": "full_backup", "params": map[string]any{"destination": "/backups/db.bak"}}},
	}
	id, err := m.SaveCheckpoint("task-1", "plan_created", payload)
	if err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	// A different store instance must read the identical payload.
	store2, _ := NewFileStore(dir)
	cp, err := store2.CheckpointByID(id)
	if err != nil {
		t.Fatalf("CheckpointByID failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(cp.Payload, &decoded); err != nil {
		t.Fatalf("payload corrupt after reload: %v", err)
	}
	if _, ok := decoded["plan"]; !ok {
		t.Error("plan missing from restored payload")
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()
	m := NewManager(store)

	for i := 0; i < 3; i++ {
		if _, err := m.SaveCheckpoint("task-1", fmt.Sprintf("step_%d_completed", i), map[string]any{"i": i}); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
	}
	cps, err := m.TaskCheckpoints("task-1")
	if err != nil {
		t.Fatalf("TaskCheckpoints failed: %v", err)
	}
	if len(cps) != 3 || cps[2].Sequence != 3 {
		t.Fatalf("unexpected checkpoints: %d", len(cps))
	}

	m.LogEvent("task-1", "approval_requested", map[string]any{"tool": "execute_migration"})
	events, err := m.Events("task-1")
	if err != nil || len(events) != 1 {
		t.Fatalf("Events = %v, %v", events, err)
	}
}
