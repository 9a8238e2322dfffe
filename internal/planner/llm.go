package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/openclaw/aishell/internal/task"
	"github.com/openclaw/aishell/internal/tool"
)

// LLMPlanner plans with a language model behind the agentkit provider
// abstraction.
type LLMPlanner struct {
	provider llm.Provider
	logger   *logging.Logger
}

// NewLLMPlanner creates a planner on top of an LLM provider.
func NewLLMPlanner(provider llm.Provider) *LLMPlanner {
	return &LLMPlanner{
		provider: provider,
		logger:   logging.New().WithComponent("planner"),
	}
}

const planSystemPrompt = `You are a planning assistant for a database operations engine.
Given a task and a tool catalogue, produce an ordered plan.

Respond with ONLY a JSON array. Each element:
{"tool": "<name from the catalogue>", "params": {...}, "rationale": "<one sentence>"}

Rules:
- Use only tools from the catalogue, with parameters matching their schemas.
- A step may reference an earlier step's output as "${stepN.output.<field>}"
  where N is a zero-based index of a PRIOR step.
- Prefer the least risky tool that accomplishes each step.
- Do not invent steps the task does not need.`

// Plan asks the model for a step plan and parses it.
func (p *LLMPlanner) Plan(ctx context.Context, tc *task.Context, tools []*tool.Definition) ([]task.PlannedStep, error) {
	prompt := buildPlanPrompt(tc, tools)

	resp, err := p.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, &PlanningError{Reason: "provider error", Err: err}
	}

	steps, err := ParsePlan(resp.Content)
	if err != nil {
		return nil, err
	}
	p.logger.Info("plan created", map[string]interface{}{
		"task":  tc.ID,
		"steps": len(steps),
	})
	return steps, nil
}

func buildPlanPrompt(tc *task.Context, tools []*tool.Definition) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("TASK: %s\n\n", tc.Description))

	if len(tc.Input) > 0 {
		data, _ := json.Marshal(tc.Input)
		sb.WriteString(fmt.Sprintf("INPUT: %s\n\n", data))
	}

	sb.WriteString("TOOL CATALOGUE:\n")
	for _, def := range tools {
		sb.WriteString(fmt.Sprintf("- %s (%s, risk=%s): %s\n", def.Name, def.Category, def.Risk, def.Description))
		for name, spec := range def.Parameters {
			req := ""
			if spec.Required {
				req = ", required"
			}
			sb.WriteString(fmt.Sprintf("    %s (%s%s): %s\n", name, spec.Type, req, spec.Description))
		}
	}

	sb.WriteString("\nProduce the plan as a JSON array.")
	return sb.String()
}

// ParsePlan decodes a model response into planned steps. The shape is
// validated strictly; anything malformed is a PlanningError.
func ParsePlan(content string) ([]task.PlannedStep, error) {
	raw := extractJSONArray(content)
	if raw == "" {
		return nil, &PlanningError{Reason: "no JSON array in response"}
	}

	var steps []task.PlannedStep
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, &PlanningError{Reason: "malformed plan JSON", Err: err}
	}
	if len(steps) == 0 {
		return nil, &PlanningError{Reason: "empty plan"}
	}
	for i, s := range steps {
		if s.Tool == "" {
			return nil, &PlanningError{Reason: fmt.Sprintf("step %d has no tool", i)}
		}
		if s.Params == nil {
			steps[i].Params = map[string]any{}
		}
	}
	return steps, nil
}

// extractJSONArray strips markdown fences and surrounding prose, keeping
// the outermost JSON array.
func extractJSONArray(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```"); idx != -1 {
		content = content[idx+3:]
		content = strings.TrimPrefix(content, "json")
		if end := strings.Index(content, "```"); end != -1 {
			content = content[:end]
		}
	}
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}

const summarySystemPrompt = `You summarize completed database operations for an operator.
Be factual and brief: what was done, in what order, and any notable outcomes.`

// Summarize renders a short natural-language account of the run.
func (p *LLMPlanner) Summarize(ctx context.Context, plan []task.PlannedStep, actions []task.ExecutedAction) (string, error) {
	var sb strings.Builder
	sb.WriteString("PLAN:\n")
	for i, s := range plan {
		sb.WriteString(fmt.Sprintf("%d. %s - %s\n", i, s.Tool, s.Rationale))
	}
	sb.WriteString("\nEXECUTED:\n")
	for _, a := range actions {
		line := fmt.Sprintf("step %d: %s -> %s (attempts=%d)", a.Step, a.Tool, a.Status, a.Attempts)
		if a.Error != "" {
			line += " error=" + a.Error
		}
		sb.WriteString(line + "\n")
	}

	resp, err := p.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
