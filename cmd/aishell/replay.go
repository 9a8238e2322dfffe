package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openclaw/aishell/internal/config"
	"github.com/openclaw/aishell/internal/replay"
	"github.com/openclaw/aishell/internal/state"
)

// Run replays a task trail. Only the state store is opened; no LLM or
// approval configuration is needed.
func (c *ReplayCmd) Run() error {
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

	var opts []replay.Option
	if c.Verbose > 0 {
		opts = append(opts, replay.WithVerbose())
	}
	r := replay.New(os.Stdout, mgr, opts...)

	switch {
	case c.Live:
		if cfg.Storage.Backend == "sqlite" {
			return fmt.Errorf("--live requires the file storage backend")
		}
		eventsPath := filepath.Join(cfg.StoragePath(), "tasks", c.TaskID, "events.jsonl")
		return r.ReplayLive(c.TaskID, eventsPath)
	case c.NoPager:
		return r.Replay(c.TaskID)
	default:
		return r.ReplayInteractive(c.TaskID)
	}
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return config.Default(), nil
	}
	return cfg, nil
}
