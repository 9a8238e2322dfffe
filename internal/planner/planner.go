// Package planner turns task descriptions into ordered step plans. The
// engine treats planning as an opaque, potentially non-deterministic
// dependency: it is never retried automatically, and its failure degrades
// planning but never blocks safety or checkpointing logic.
package planner

import (
	"context"

	"github.com/openclaw/aishell/internal/task"
	"github.com/openclaw/aishell/internal/tool"
)

// Planner produces plans and summaries for an agent.
type Planner interface {
	// Plan returns an ordered list of steps for the task, choosing only
	// from the supplied tool catalogue.
	Plan(ctx context.Context, tc *task.Context, tools []*tool.Definition) ([]task.PlannedStep, error)

	// Summarize produces a human-readable account of what was executed.
	// Best-effort: callers must tolerate errors.
	Summarize(ctx context.Context, plan []task.PlannedStep, actions []task.ExecutedAction) (string, error)
}

// Coordinator decomposes a composite task into dependency-ordered
// subtask specifications for other agents.
type Coordinator interface {
	Decompose(ctx context.Context, tc *task.Context) ([]task.SubtaskSpec, error)
}

// PlanningError reports that the planner failed or returned an invalid
// plan shape. Fatal; plans are never retried.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return "planning failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "planning failed: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }
