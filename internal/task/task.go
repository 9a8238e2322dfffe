// Package task defines the shared data model for agentic workflow execution.
package task

import (
	"database/sql"
	"time"
)

// Status constants for task results.
const (
	StatusSuccess          = "success"
	StatusFailure          = "failure"
	StatusRequiresApproval = "requires_approval"
)

// Context describes one task execution. It is created once by the
// orchestrator and read-only for the duration of the run.
type Context struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`

	// Target system the task operates on, when it names one.
	DB *sql.DB `json:"-"`

	// Set for subtasks of a multi-agent decomposition.
	WorkflowID   string `json:"workflow_id,omitempty"`
	ParentTaskID string `json:"parent_task_id,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// PlannedStep is a single step of a plan. Params may reference prior step
// outputs via ${stepN.output.field} substitution tokens.
type PlannedStep struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	Rationale string         `json:"rationale,omitempty"`
}

// ExecutedAction records one executed (or attempted) step.
type ExecutedAction struct {
	Step     int            `json:"step"`
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Status   string         `json:"status"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ms"`
}

// Result is produced exactly once per task run.
type Result struct {
	TaskID        string           `json:"task_id"`
	AgentID       string           `json:"agent_id"`
	Status        string           `json:"status"`
	Output        map[string]any   `json:"output,omitempty"`
	ActionsTaken  []ExecutedAction `json:"actions_taken,omitempty"`
	Reasoning     string           `json:"reasoning,omitempty"`
	Error         string           `json:"error,omitempty"`
	Duration      time.Duration    `json:"duration_ms"`
	CheckpointIDs []string         `json:"checkpoint_ids,omitempty"`
}

// SubtaskSpec is one element of a coordinator decomposition. DependsOn
// holds indices into the decomposition list.
type SubtaskSpec struct {
	AgentType   string         `json:"agent_type"`
	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`
	DependsOn   []int          `json:"depends_on,omitempty"`
	// Tolerant subtasks do not fail the composite when they fail;
	// their dependents are still skipped.
	Tolerant bool `json:"tolerant,omitempty"`
}
