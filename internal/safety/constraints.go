package safety

import (
	"fmt"
	"time"

	"github.com/openclaw/aishell/internal/task"
	"github.com/openclaw/aishell/internal/tool"
)

// ConstraintResult is the outcome of one constraint check. Hard violations
// fail validation outright; soft ones force approval.
type ConstraintResult struct {
	Violated bool
	Hard     bool
	Reason   string
}

// Constraint is a pluggable safety check evaluated during validation.
type Constraint interface {
	Name() string
	Check(step task.PlannedStep, def *tool.Definition) *ConstraintResult
}

// MaxAffectedRows limits how many rows a step may touch, read from the
// step's estimated_rows parameter when present.
type MaxAffectedRows struct {
	Limit int64
	Hard  bool
}

func (c *MaxAffectedRows) Name() string { return "max_affected_rows" }

// Check inspects the step's estimated_rows parameter. Steps that do not
// declare an estimate pass.
func (c *MaxAffectedRows) Check(step task.PlannedStep, def *tool.Definition) *ConstraintResult {
	raw, ok := step.Params["estimated_rows"]
	if !ok {
		return nil
	}
	var rows int64
	switch v := raw.(type) {
	case int:
		rows = int64(v)
	case int64:
		rows = v
	case float64:
		rows = int64(v)
	default:
		return nil
	}
	if rows <= c.Limit {
		return nil
	}
	return &ConstraintResult{
		Violated: true,
		Hard:     c.Hard,
		Reason:   fmt.Sprintf("estimated %d rows exceeds limit %d", rows, c.Limit),
	}
}

// ForbiddenWindow blocks risky operations during a daily time window
// (e.g. business hours). Only steps at or above MinRisk are affected.
type ForbiddenWindow struct {
	Start   string // "15:04"
	End     string // "15:04"
	MinRisk tool.RiskLevel
	Hard    bool

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (c *ForbiddenWindow) Name() string { return "forbidden_time_window" }

// Check reports a violation when the current time falls inside the window.
func (c *ForbiddenWindow) Check(step task.PlannedStep, def *tool.Definition) *ConstraintResult {
	if def.Risk < c.MinRisk {
		return nil
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	start, err1 := time.Parse("15:04", c.Start)
	end, err2 := time.Parse("15:04", c.End)
	if err1 != nil || err2 != nil {
		return nil
	}

	minutes := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	inside := false
	if startMin <= endMin {
		inside = minutes >= startMin && minutes < endMin
	} else {
		// Window wraps midnight.
		inside = minutes >= startMin || minutes < endMin
	}
	if !inside {
		return nil
	}
	return &ConstraintResult{
		Violated: true,
		Hard:     c.Hard,
		Reason:   fmt.Sprintf("%s operations forbidden between %s and %s", def.Risk, c.Start, c.End),
	}
}
