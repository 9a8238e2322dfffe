package safety

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/aishell/internal/task"
	"github.com/openclaw/aishell/internal/tool"
)

func testDef(name string, risk tool.RiskLevel, cat tool.Category) *tool.Definition {
	return &tool.Definition{Name: name, Category: cat, Risk: risk}
}

func approveAll(approver string) FuncSink {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Approved: true, Approver: approver, Reason: "ok"}, nil
	}
}

func TestValidate_StrictGatesHighRisk(t *testing.T) {
	c := NewController(Options{})
	step := task.PlannedStep{Tool: "reindex"}
	def := testDef("reindex", tool.RiskHigh, tool.CategoryMaintenance)

	v, err := c.Validate(step, def, LevelStrict)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !v.RequiresApproval {
		t.Error("strict + high risk must require approval")
	}

	v, err = c.Validate(step, def, LevelPermissive)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if v.RequiresApproval {
		t.Error("permissive + high risk must not require approval")
	}
}

func TestValidate_ModerateGatesCriticalOnly(t *testing.T) {
	c := NewController(Options{})
	high := testDef("reindex", tool.RiskHigh, tool.CategoryMaintenance)
	critical := testDef("wipe", tool.RiskCritical, tool.CategoryMaintenance)

	v, _ := c.Validate(task.PlannedStep{Tool: "reindex"}, high, LevelModerate)
	if v.RequiresApproval {
		t.Error("moderate + high must not require approval")
	}
	v, _ = c.Validate(task.PlannedStep{Tool: "wipe"}, critical, LevelModerate)
	if !v.RequiresApproval {
		t.Error("moderate + critical must require approval")
	}
}

func TestValidate_SchemaChangeAlwaysGated(t *testing.T) {
	c := NewController(Options{})
	def := testDef("alter_table", tool.RiskLow, tool.CategorySchemaChange)

	for _, level := range []Level{LevelStrict, LevelModerate, LevelPermissive} {
		v, err := c.Validate(task.PlannedStep{Tool: "alter_table"}, def, level)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if !v.RequiresApproval {
			t.Errorf("schema change must require approval under %s", level)
		}
	}
}

func TestValidate_DestructiveListForcesMultiParty(t *testing.T) {
	pol := &Policy{
		DestructiveOperations: []string{"execute_migration"},
		MinApprovals:          2,
	}
	c := NewController(Options{Policy: pol})
	def := testDef("execute_migration", tool.RiskCritical, tool.CategorySchemaChange)

	v, err := c.Validate(task.PlannedStep{Tool: "execute_migration"}, def, LevelPermissive)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !v.RequiresApproval || v.MinApprovals != 2 {
		t.Errorf("destructive op must need 2 approvals, got requires=%v min=%d", v.RequiresApproval, v.MinApprovals)
	}
}

func TestValidate_HardConstraintFailsOutright(t *testing.T) {
	c := NewController(Options{
		Constraints: []Constraint{&MaxAffectedRows{Limit: 1000, Hard: true}},
	})
	def := testDef("bulk_update", tool.RiskMedium, tool.CategoryMaintenance)
	step := task.PlannedStep{Tool: "bulk_update", Params: map[string]any{"estimated_rows": float64(50000)}}

	_, err := c.Validate(step, def, LevelModerate)
	var cv *ConstraintViolationError
	if !errors.As(err, &cv) {
		t.Fatalf("expected ConstraintViolationError, got %v", err)
	}
}

func TestValidate_SoftConstraintForcesApproval(t *testing.T) {
	c := NewController(Options{
		Constraints: []Constraint{&MaxAffectedRows{Limit: 1000, Hard: false}},
	})
	def := testDef("bulk_update", tool.RiskLow, tool.CategoryMaintenance)
	step := task.PlannedStep{Tool: "bulk_update", Params: map[string]any{"estimated_rows": float64(50000)}}

	v, err := c.Validate(step, def, LevelPermissive)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !v.RequiresApproval {
		t.Error("soft violation must force approval")
	}
}

func TestForbiddenWindow(t *testing.T) {
	inside := &ForbiddenWindow{
		Start: "09:00", End: "17:00", MinRisk: tool.RiskHigh, Hard: true,
		Now: func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) },
	}
	def := testDef("reindex", tool.RiskHigh, tool.CategoryMaintenance)

	res := inside.Check(task.PlannedStep{}, def)
	if res == nil || !res.Violated || !res.Hard {
		t.Errorf("expected hard violation inside window, got %+v", res)
	}

	// Low risk passes even inside the window.
	if res := inside.Check(task.PlannedStep{}, testDef("read", tool.RiskSafe, tool.CategoryRead)); res != nil {
		t.Errorf("safe tool must pass the window, got %+v", res)
	}

	outside := &ForbiddenWindow{
		Start: "09:00", End: "17:00", MinRisk: tool.RiskHigh,
		Now: func() time.Time { return time.Date(2026, 8, 23, 3, 0, 0, 0, time.UTC) },
	}
	if res := outside.Check(task.PlannedStep{}, def); res != nil {
		t.Errorf("expected pass outside window, got %+v", res)
	}
}

func TestRequestApproval_Rejection(t *testing.T) {
	sink := FuncSink(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Approved: false, Approver: "alice", Reason: "not during release week"}, nil
	})
	c := NewController(Options{Sink: sink})
	v := &Validation{Tool: "execute_migration", RequiresApproval: true, MinApprovals: 1}

	resp, err := c.RequestApproval(context.Background(), task.PlannedStep{Tool: "execute_migration"}, v)
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if resp.Approved {
		t.Fatal("expected rejection")
	}
	if resp.Reason != "not during release week" {
		t.Errorf("rejection reason lost: %s", resp.Reason)
	}

	audit := c.Audit()
	if len(audit) != 2 || audit[0].Kind != "request" || audit[1].Kind != "response" {
		t.Errorf("audit log incomplete: %d entries", len(audit))
	}
}

func TestRequestApproval_MultiPartyDistinctApprovers(t *testing.T) {
	approvers := []string{"alice", "alice", "bob"}
	i := 0
	sink := FuncSink(func(ctx context.Context, req *Request) (*Response, error) {
		resp := &Response{Approved: true, Approver: approvers[i]}
		i++
		return resp, nil
	})
	c := NewController(Options{Sink: sink})
	v := &Validation{Tool: "execute_migration", RequiresApproval: true, MinApprovals: 2}

	resp, err := c.RequestApproval(context.Background(), task.PlannedStep{}, v)
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if !resp.Approved {
		t.Fatal("expected approval")
	}
	// alice twice must not satisfy two-party approval; bob was required.
	if i != 3 {
		t.Errorf("expected 3 sink calls, got %d", i)
	}
}

func TestRequestApproval_NoSink(t *testing.T) {
	c := NewController(Options{})
	v := &Validation{Tool: "x", RequiresApproval: true, MinApprovals: 1}
	if _, err := c.RequestApproval(context.Background(), task.PlannedStep{}, v); err == nil {
		t.Fatal("expected error with no sink configured")
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
destructive_operations:
  - execute_migration
  - drop_table
min_approvals: 3
max_affected_rows:
  limit: 100000
  hard: false
forbidden_window:
  start: "09:00"
  end: "17:00"
  min_risk: high
  hard: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	pol, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if !pol.IsDestructive("drop_table") || pol.IsDestructive("estimate_size") {
		t.Error("destructive list wrong")
	}
	if pol.MinApprovals != 3 {
		t.Errorf("min_approvals = %d", pol.MinApprovals)
	}
	if len(pol.Constraints()) != 2 {
		t.Errorf("expected 2 constraints, got %d", len(pol.Constraints()))
	}
}
