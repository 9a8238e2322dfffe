// Package tool provides the tool registry: vetted, schema-described
// operations with risk classification.
package tool

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RiskLevel classifies how dangerous a tool is. Levels form a total order.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskSafe:     "safe",
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

// ParseRiskLevel converts a risk name to its level.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for level, name := range riskNames {
		if name == s {
			return level, nil
		}
	}
	return RiskSafe, fmt.Errorf("unknown risk level %q", s)
}

// Category groups tools by the kind of operation they perform.
type Category string

const (
	CategoryRead        Category = "read"
	CategoryAnalysis    Category = "analysis"
	CategoryBackup      Category = "backup"
	CategoryMaintenance Category = "maintenance"
	// CategorySchemaChange marks DDL-equivalent tools. Steps using them
	// always require approval regardless of safety level.
	CategorySchemaChange Category = "schema_change"
)

// ExecContext is the execution context bundle handed to tool bodies.
type ExecContext struct {
	TaskID  string
	AgentID string
	// DB is the target database handle, when the task names one.
	DB *sql.DB
	// Vars carries free-form values domain tools agree on out of band.
	Vars map[string]any
}

// Body is the executable implementation of a tool. It is supplied by
// domain modules; the registry never inspects what it does.
type Body func(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error)

// ParamSpec describes one parameter of a tool's schema.
type ParamSpec struct {
	Type        string // string, number, integer, boolean, object, array
	Description string
	Required    bool
	Enum        []string
}

// Definition describes a registered tool. Immutable once registered.
type Definition struct {
	Name             string
	Description      string
	Category         Category
	Risk             RiskLevel
	Capabilities     []string
	Parameters       map[string]ParamSpec
	Results          map[string]string
	RequiresApproval bool
	MaxDuration      time.Duration
	Body             Body
}

// DuplicateToolError is returned when registering a name that exists.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// NotFoundError is returned when looking up an unregistered tool.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ValidationError is returned when step parameters fail the tool schema.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("invalid params for %s: %s: %s", e.Tool, e.Param, e.Reason)
	}
	return fmt.Sprintf("invalid params for %s: %s", e.Tool, e.Reason)
}

// TimeoutError is returned when a tool body exceeds its max duration.
type TimeoutError struct {
	Tool  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s exceeded max duration %s", e.Tool, e.Limit)
}

// ExecutionError wraps an error raised by a tool body. Callers use it to
// distinguish retryable domain failures from schema or timeout failures.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
