package safety

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"
	"gopkg.in/yaml.v3"

	"github.com/openclaw/aishell/internal/tool"
)

// Policy is the declarative part of the safety configuration, loaded from
// a YAML file.
//
//	destructive_operations:
//	  - execute_migration
//	  - drop_table
//	min_approvals: 2
//	max_affected_rows:
//	  limit: 100000
//	  hard: false
//	forbidden_window:
//	  start: "09:00"
//	  end: "17:00"
//	  min_risk: high
//	  hard: true
type Policy struct {
	DestructiveOperations []string `yaml:"destructive_operations"`
	MinApprovals          int      `yaml:"min_approvals"`

	MaxRows *struct {
		Limit int64 `yaml:"limit"`
		Hard  bool  `yaml:"hard"`
	} `yaml:"max_affected_rows"`

	Window *struct {
		Start   string `yaml:"start"`
		End     string `yaml:"end"`
		MinRisk string `yaml:"min_risk"`
		Hard    bool   `yaml:"hard"`
	} `yaml:"forbidden_window"`
}

// LoadPolicy reads a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading safety policy: %w", err)
	}
	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parsing safety policy: %w", err)
	}
	if pol.MinApprovals < 2 {
		pol.MinApprovals = 2
	}
	return &pol, nil
}

// IsDestructive reports whether the tool name is on the destructive list.
func (p *Policy) IsDestructive(name string) bool {
	for _, op := range p.DestructiveOperations {
		if op == name {
			return true
		}
	}
	return false
}

// Constraints materializes the policy's declared constraints.
func (p *Policy) Constraints() []Constraint {
	var out []Constraint
	if p.MaxRows != nil {
		out = append(out, &MaxAffectedRows{Limit: p.MaxRows.Limit, Hard: p.MaxRows.Hard})
	}
	if p.Window != nil {
		minRisk := tool.RiskHigh
		if p.Window.MinRisk != "" {
			if parsed, err := tool.ParseRiskLevel(p.Window.MinRisk); err == nil {
				minRisk = parsed
			}
		}
		out = append(out, &ForbiddenWindow{
			Start:   p.Window.Start,
			End:     p.Window.End,
			MinRisk: minRisk,
			Hard:    p.Window.Hard,
		})
	}
	return out
}

// WatchPolicy reloads the policy file into the controller whenever it
// changes on disk. Returns a stop function.
func WatchPolicy(path string, ctl *Controller) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating policy watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching policy file: %w", err)
	}

	logger := logging.New().WithComponent("safety")
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				pol, err := LoadPolicy(path)
				if err != nil {
					logger.Warn("policy reload failed", map[string]interface{}{
						"path":  path,
						"error": err.Error(),
					})
					continue
				}
				ctl.SetPolicy(pol)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
