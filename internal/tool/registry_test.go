package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func echoTool(name string, risk RiskLevel) *Definition {
	return &Definition{
		Name:        name,
		Description: "echo",
		Category:    CategoryRead,
		Risk:        risk,
		Parameters: map[string]ParamSpec{
			"msg": {Type: "string", Required: true},
		},
		Body: func(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
			return map[string]any{"msg": params["msg"]}, nil
		},
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo", RiskSafe)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	err := r.Register(echoTool("echo", RiskSafe))
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateToolError, got %v", err)
	}
	if dup.Name != "echo" {
		t.Errorf("wrong name in error: %s", dup.Name)
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRegistry_FindByMaxRisk(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("safe_tool", RiskSafe))
	r.Register(echoTool("medium_tool", RiskMedium))
	r.Register(echoTool("critical_tool", RiskCritical))

	max := RiskMedium
	found := r.Find(Filter{MaxRisk: &max})
	if len(found) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(found))
	}
	for _, def := range found {
		if def.Risk > RiskMedium {
			t.Errorf("tool %s exceeds max risk", def.Name)
		}
	}
}

func TestRegistry_FindByCapabilities(t *testing.T) {
	r := NewRegistry()

	writer := echoTool("writer", RiskMedium)
	writer.Capabilities = []string{"database-write"}
	reader := echoTool("reader", RiskSafe)
	reader.Capabilities = []string{"database-read"}
	r.Register(writer)
	r.Register(reader)

	found := r.Find(Filter{Capabilities: []string{"database-read"}})
	if len(found) != 1 || found[0].Name != "reader" {
		t.Fatalf("expected only reader, got %v", found)
	}

	// Both capabilities held: capability sets are subsets, both match.
	found = r.Find(Filter{Capabilities: []string{"database-read", "database-write"}})
	if len(found) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(found))
	}
}

func TestRegistry_ExecuteValidation(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", RiskSafe))

	cases := []struct {
		name   string
		params map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"msg": 42}},
		{"unknown param", map[string]any{"msg": "hi", "extra": true}},
	}
	for _, tc := range cases {
		_, err := r.Execute(context.Background(), "echo", tc.params, nil)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}

	out, err := r.Execute(context.Background(), "echo", map[string]any{"msg": "hi"}, nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out["msg"] != "hi" {
		t.Errorf("wrong output: %v", out)
	}
}

func TestRegistry_ExecuteEnum(t *testing.T) {
	r := NewRegistry()
	def := echoTool("mode_tool", RiskSafe)
	def.Parameters["mode"] = ParamSpec{Type: "string", Enum: []string{"fast", "slow"}}
	r.Register(def)

	_, err := r.Execute(context.Background(), "mode_tool", map[string]any{"msg": "x", "mode": "turbo"}, nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for enum, got %v", err)
	}
}

func TestRegistry_ExecuteTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(&Definition{
		Name:        "slow",
		Category:    CategoryRead,
		Risk:        RiskSafe,
		Parameters:  map[string]ParamSpec{},
		MaxDuration: 20 * time.Millisecond,
		Body: func(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
			time.Sleep(500 * time.Millisecond)
			return map[string]any{}, nil
		},
	})

	start := time.Now()
	_, err := r.Execute(context.Background(), "slow", map[string]any{}, nil)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Error("execute did not return at the timeout boundary")
	}
}

func TestRegistry_ExecuteDomainError(t *testing.T) {
	r := NewRegistry()
	boom := fmt.Errorf("disk full")
	r.Register(&Definition{
		Name:       "failing",
		Category:   CategoryBackup,
		Risk:       RiskLow,
		Parameters: map[string]ParamSpec{},
		Body: func(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
			return nil, boom
		},
	})

	_, err := r.Execute(context.Background(), "failing", map[string]any{}, nil)
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("domain error not preserved in chain")
	}
}

func TestRegisterDatabaseTools(t *testing.T) {
	r := NewRegistry()
	if err := RegisterDatabaseTools(r); err != nil {
		t.Fatalf("RegisterDatabaseTools failed: %v", err)
	}

	def, err := r.Get("execute_migration")
	if err != nil {
		t.Fatalf("execute_migration not registered: %v", err)
	}
	if def.Category != CategorySchemaChange {
		t.Errorf("expected schema_change category, got %s", def.Category)
	}
	if def.Risk != RiskCritical || !def.RequiresApproval {
		t.Error("execute_migration must be critical and approval-gated")
	}

	if !r.Has("full_backup") || !r.Has("estimate_size") {
		t.Error("backup tool set incomplete")
	}
}

func TestRiskLevelOrder(t *testing.T) {
	if !(RiskSafe < RiskLow && RiskLow < RiskMedium && RiskMedium < RiskHigh && RiskHigh < RiskCritical) {
		t.Fatal("risk levels are not totally ordered")
	}
	level, err := ParseRiskLevel("high")
	if err != nil || level != RiskHigh {
		t.Errorf("ParseRiskLevel(high) = %v, %v", level, err)
	}
	if _, err := ParseRiskLevel("extreme"); err == nil {
		t.Error("expected error for unknown level")
	}
}
