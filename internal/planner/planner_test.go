package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/openclaw/aishell/internal/task"
	"github.com/openclaw/aishell/internal/tool"
)

func TestParsePlan_Plain(t *testing.T) {
	content := `[
		{"tool": "estimate_size", "params": {"table": "users"}, "rationale": "size first"},
		{"tool": "full_backup", "params": {"destination": "/backups/db.bak"}, "rationale": "then back up"}
	]`
	steps, err := ParsePlan(content)
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Tool != "estimate_size" || steps[1].Tool != "full_backup" {
		t.Errorf("wrong tools: %v", steps)
	}
}

func TestParsePlan_MarkdownFences(t *testing.T) {
	content := "Here is the plan:\n```json\n[{\"tool\": \"estimate_size\", \"params\": {}}]\n```\nDone."
	steps, err := ParsePlan(content)
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Tool != "estimate_size" {
		t.Errorf("wrong steps: %v", steps)
	}
}

func TestParsePlan_InvalidShape(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no array", "I cannot plan this."},
		{"empty array", "[]"},
		{"missing tool", `[{"params": {}}]`},
		{"not json", "[this is not json]"},
	}
	for _, tc := range cases {
		_, err := ParsePlan(tc.content)
		var pe *PlanningError
		if !errors.As(err, &pe) {
			t.Errorf("%s: expected PlanningError, got %v", tc.name, err)
		}
	}
}

func TestLLMPlanner_Plan(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse(`[{"tool": "full_backup", "params": {"destination": "/tmp/b.bak"}, "rationale": "backup"}]`)

	p := NewLLMPlanner(provider)
	tc := &task.Context{ID: "task-1", Description: "backup production"}
	tools := []*tool.Definition{
		{Name: "full_backup", Description: "backup", Category: tool.CategoryBackup, Risk: tool.RiskLow,
			Parameters: map[string]tool.ParamSpec{"destination": {Type: "string", Required: true}}},
	}

	steps, err := p.Plan(context.Background(), tc, tools)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Tool != "full_backup" {
		t.Fatalf("wrong plan: %v", steps)
	}

	// The catalogue must appear in the prompt.
	req := provider.LastRequest()
	found := false
	for _, msg := range req.Messages {
		if msg.Role == "user" && containsAll(msg.Content, "backup production", "full_backup", "destination") {
			found = true
		}
	}
	if !found {
		t.Error("prompt missing task or catalogue")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestLLMPlanner_Summarize(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("Backed up the database in two steps.")

	p := NewLLMPlanner(provider)
	summary, err := p.Summarize(context.Background(),
		[]task.PlannedStep{{Tool: "full_backup", Rationale: "backup"}},
		[]task.ExecutedAction{{Step: 0, Tool: "full_backup", Status: task.StatusSuccess, Attempts: 1}})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary == "" {
		t.Error("empty summary")
	}
}

func TestParseDecomposition(t *testing.T) {
	content := `[
		{"agent_type": "backup", "description": "back up all shards", "depends_on": []},
		{"agent_type": "migration", "description": "apply schema change", "depends_on": [0]}
	]`
	specs, err := ParseDecomposition(content)
	if err != nil {
		t.Fatalf("ParseDecomposition failed: %v", err)
	}
	if len(specs) != 2 || specs[1].DependsOn[0] != 0 {
		t.Fatalf("wrong specs: %v", specs)
	}

	_, err = ParseDecomposition(`[{"agent_type": "backup", "description": "x", "depends_on": [5]}]`)
	var pe *PlanningError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PlanningError for undeclared dependency, got %v", err)
	}
}
