package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/openclaw/aishell/internal/task"
)

// LLMCoordinator decomposes composite tasks with a language model.
type LLMCoordinator struct {
	provider llm.Provider
	logger   *logging.Logger
}

// NewLLMCoordinator creates a coordinator on top of an LLM provider.
func NewLLMCoordinator(provider llm.Provider) *LLMCoordinator {
	return &LLMCoordinator{
		provider: provider,
		logger:   logging.New().WithComponent("coordinator"),
	}
}

const decomposeSystemPrompt = `You decompose a composite database operations task into subtasks
for specialist agents.

Respond with ONLY a JSON array. Each element:
{"agent_type": "<backup|migration|optimizer|general>",
 "description": "<what the subtask must accomplish>",
 "input": {...},
 "depends_on": [<zero-based indices of subtasks that must succeed first>],
 "tolerant": <true if the composite may succeed despite this subtask failing>}

Rules:
- depends_on may only reference other elements of the same array.
- Keep independent subtasks independent so they can run concurrently.
- Do not create circular dependencies.`

// Decompose asks the model to split the task and parses the result.
func (c *LLMCoordinator) Decompose(ctx context.Context, tc *task.Context) ([]task.SubtaskSpec, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("COMPOSITE TASK: %s\n", tc.Description))
	if len(tc.Input) > 0 {
		data, _ := json.Marshal(tc.Input)
		sb.WriteString(fmt.Sprintf("INPUT: %s\n", data))
	}

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: decomposeSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return nil, &PlanningError{Reason: "coordinator provider error", Err: err}
	}

	specs, err := ParseDecomposition(resp.Content)
	if err != nil {
		return nil, err
	}
	c.logger.Info("task decomposed", map[string]interface{}{
		"task":     tc.ID,
		"subtasks": len(specs),
	})
	return specs, nil
}

// ParseDecomposition decodes a decomposition response and validates the
// shape: every dependency index must name another element of the list.
func ParseDecomposition(content string) ([]task.SubtaskSpec, error) {
	raw := extractJSONArray(content)
	if raw == "" {
		return nil, &PlanningError{Reason: "no JSON array in decomposition"}
	}

	var specs []task.SubtaskSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, &PlanningError{Reason: "malformed decomposition JSON", Err: err}
	}
	if len(specs) == 0 {
		return nil, &PlanningError{Reason: "empty decomposition"}
	}
	for i, spec := range specs {
		if spec.Description == "" {
			return nil, &PlanningError{Reason: fmt.Sprintf("subtask %d has no description", i)}
		}
		for _, dep := range spec.DependsOn {
			if dep < 0 || dep >= len(specs) {
				return nil, &PlanningError{Reason: fmt.Sprintf("subtask %d depends on undeclared subtask %d", i, dep)}
			}
		}
	}
	return specs, nil
}
