package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/openclaw/aishell/internal/state"
)

// Run summarizes a task's recorded progress from the state store.
func (c *StatusCmd) Run() error {
	cfg, err := loadConfigOrDefault(c.Config)
	if err != nil {
		return err
	}

	var store state.Store
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err = state.NewSQLiteStore(filepath.Join(cfg.StoragePath(), "state.db"))
	default:
		store, err = state.NewFileStore(filepath.Join(cfg.StoragePath(), "tasks"))
	}
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	mgr := state.NewManager(store)
	defer mgr.Close()

	latest, err := mgr.LatestCheckpoint(c.TaskID)
	if err != nil {
		return err
	}
	evs, err := mgr.Events(c.TaskID)
	if err != nil {
		return err
	}
	if latest == nil && len(evs) == 0 {
		return fmt.Errorf("no trail recorded for task %s", c.TaskID)
	}

	fmt.Printf("task %s\n", c.TaskID)
	if latest != nil {
		fmt.Printf("  latest checkpoint: %s (seq=%d, %s)\n",
			latest.Label, latest.Sequence, latest.Timestamp.Format(time.RFC3339))
	}
	switch {
	case lastEventOfType(evs, "task_completed") != nil:
		fmt.Println("  state: completed")
	case lastEventOfType(evs, "task_failed") != nil:
		ev := lastEventOfType(evs, "task_failed")
		fmt.Printf("  state: failed (%v)\n", ev.Data["error"])
	default:
		fmt.Println("  state: in progress (resumable)")
	}
	fmt.Printf("  events recorded: %d\n", len(evs))
	return nil
}

func lastEventOfType(evs []*state.Event, eventType string) *state.Event {
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == eventType {
			return evs[i]
		}
	}
	return nil
}
