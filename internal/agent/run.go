package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/aishell/internal/planner"
	"github.com/openclaw/aishell/internal/safety"
	"github.com/openclaw/aishell/internal/task"
	"github.com/openclaw/aishell/internal/tool"
)

// planPayload is the checkpoint body written under the plan_created label.
type planPayload struct {
	Description string             `json:"description"`
	Plan        []task.PlannedStep `json:"plan"`
}

// stepPayload is the checkpoint body written per completed step.
type stepPayload struct {
	Step     int            `json:"step"`
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params"`
	Output   map[string]any `json:"output"`
	Attempts int            `json:"attempts"`
}

// rollbackPayload is checkpointed before any schema-modifying step runs.
type rollbackPayload struct {
	Step        int    `json:"step"`
	Tool        string `json:"tool"`
	RollbackSQL string `json:"rollback_sql"`
}

// Run executes the task from scratch: plan, then step through the plan.
// The returned result is always non-nil and produced exactly once.
func (a *Agent) Run(ctx context.Context, tc *task.Context) (*task.Result, error) {
	start := time.Now()
	ctx, span := a.startTaskSpan(ctx, tc)
	res := a.run(ctx, tc, start)
	a.endTaskSpan(span, res)
	return res, nil
}

func (a *Agent) run(ctx context.Context, tc *task.Context, start time.Time) *task.Result {
	a.setState(tc.ID, StatePlanning)

	catalogue := a.registry.Find(tool.Filter{Capabilities: a.cfg.Capabilities})
	plan, err := a.planner.Plan(ctx, tc, catalogue)
	if err != nil {
		a.setState(tc.ID, StateFailed)
		return a.failure(tc, nil, nil, start, err)
	}
	if err := a.checkPlanShape(plan); err != nil {
		a.setState(tc.ID, StateFailed)
		return a.failure(tc, nil, nil, start, err)
	}

	var checkpointIDs []string
	cpID, err := a.state.SaveCheckpoint(tc.ID, "plan_created", planPayload{
		Description: tc.Description,
		Plan:        plan,
	})
	if err != nil {
		a.setState(tc.ID, StateFailed)
		return a.failure(tc, plan, nil, start, fmt.Errorf("checkpointing plan: %w", err))
	}
	checkpointIDs = append(checkpointIDs, cpID)

	return a.executeFrom(ctx, tc, plan, 0, nil, checkpointIDs, nil, start)
}

// checkPlanShape rejects plans that reference unregistered tools. The
// planner is opaque; its output is validated here before anything runs.
func (a *Agent) checkPlanShape(plan []task.PlannedStep) error {
	for i, step := range plan {
		if !a.registry.Has(step.Tool) {
			return &planner.PlanningError{Reason: fmt.Sprintf("step %d uses unknown tool %q", i, step.Tool)}
		}
	}
	return nil
}

// executeFrom runs plan steps starting at index from. Prior outputs and
// checkpoint ids are carried in when resuming.
func (a *Agent) executeFrom(ctx context.Context, tc *task.Context, plan []task.PlannedStep, from int,
	outputs []map[string]any, checkpointIDs []string, actions []task.ExecutedAction, start time.Time) *task.Result {

	a.setState(tc.ID, StateExecuting)
	ec := &tool.ExecContext{TaskID: tc.ID, AgentID: a.cfg.ID, DB: tc.DB}
	if outputs == nil {
		outputs = make([]map[string]any, from)
	}

	for i := from; i < len(plan); i++ {
		if err := a.checkBoundary(ctx, tc.ID); err != nil {
			if errors.Is(err, errCancelled) {
				a.setState(tc.ID, StateCancelled)
			} else {
				a.setState(tc.ID, StateFailed)
			}
			return a.failure(tc, plan, actions, start, err)
		}

		step := plan[i]
		resolved, err := resolveParams(step.Params, i, outputs)
		if err != nil {
			a.setState(tc.ID, StateFailed)
			return a.failure(tc, plan, actions, start, err)
		}

		def, err := a.registry.Get(step.Tool)
		if err != nil {
			a.setState(tc.ID, StateFailed)
			return a.failure(tc, plan, actions, start, err)
		}

		validation, err := a.safety.Validate(task.PlannedStep{Tool: step.Tool, Params: resolved, Rationale: step.Rationale}, def, a.cfg.SafetyLevel)
		if err != nil {
			// Hard constraint violations fail immediately; no approval is offered.
			a.setState(tc.ID, StateFailed)
			return a.failure(tc, plan, actions, start, err)
		}

		if validation.RequiresApproval {
			resp, err := a.waitForApproval(ctx, tc, i, step, resolved, validation)
			if err != nil {
				a.setState(tc.ID, StateFailed)
				res := a.failure(tc, plan, actions, start, err)
				res.Status = task.StatusRequiresApproval
				return res
			}
			if !resp.Approved {
				a.setState(tc.ID, StateFailed)
				rej := &safety.ApprovalRejectedError{Approver: resp.Approver, Reason: resp.Reason}
				return a.failure(tc, plan, actions, start, rej)
			}
			a.setState(tc.ID, StateExecuting)
		}

		// Destructive schema changes must have their undo path persisted
		// before they run.
		if def.Category == tool.CategorySchemaChange {
			cpID, err := a.checkpointRollback(tc, i, step.Tool, resolved, outputs)
			if err != nil {
				a.setState(tc.ID, StateFailed)
				return a.failure(tc, plan, actions, start, err)
			}
			checkpointIDs = append(checkpointIDs, cpID)
		}

		output, attempts, err := a.executeStep(ctx, tc, i, step.Tool, resolved, ec)
		action := task.ExecutedAction{
			Step:     i,
			Tool:     step.Tool,
			Params:   resolved,
			Attempts: attempts,
		}
		if err != nil {
			action.Status = task.StatusFailure
			action.Error = err.Error()
			actions = append(actions, action)
			a.setState(tc.ID, StateFailed)
			return a.failure(tc, plan, actions, start, err)
		}
		action.Status = task.StatusSuccess
		action.Output = output
		actions = append(actions, action)
		outputs = append(outputs, output)

		cpID, err := a.state.SaveCheckpoint(tc.ID, fmt.Sprintf("step_%d_completed", i), stepPayload{
			Step:     i,
			Tool:     step.Tool,
			Params:   resolved,
			Output:   output,
			Attempts: attempts,
		})
		if err != nil {
			a.setState(tc.ID, StateFailed)
			return a.failure(tc, plan, actions, start, fmt.Errorf("checkpointing step %d: %w", i, err))
		}
		checkpointIDs = append(checkpointIDs, cpID)
	}

	a.setState(tc.ID, StateCompleted)

	result := &task.Result{
		TaskID:        tc.ID,
		AgentID:       a.cfg.ID,
		Status:        task.StatusSuccess,
		Output:        aggregateOutputs(outputs),
		ActionsTaken:  actions,
		Duration:      time.Since(start),
		CheckpointIDs: checkpointIDs,
	}

	// The summary is best-effort; the planner being unavailable never
	// fails a completed task.
	if summary, err := a.planner.Summarize(ctx, plan, actions); err == nil {
		result.Reasoning = summary
	} else {
		a.logger.Warn("summary unavailable", map[string]interface{}{
			"task":  tc.ID,
			"error": err.Error(),
		})
	}

	a.state.LogEvent(tc.ID, "task_completed", map[string]any{
		"agent": a.cfg.ID,
		"steps": len(plan),
	})
	return result
}

// waitForApproval blocks in WaitingApproval until the sink answers.
func (a *Agent) waitForApproval(ctx context.Context, tc *task.Context, idx int, step task.PlannedStep,
	resolved map[string]any, validation *safety.Validation) (*safety.Response, error) {

	a.setState(tc.ID, StateWaitingApproval)
	a.state.LogEvent(tc.ID, "approval_requested", map[string]any{
		"step": idx,
		"tool": step.Tool,
		"risk": validation.Risk.String(),
	})

	ctx, span := a.startApprovalSpan(ctx, tc, step.Tool)
	resp, err := a.safety.RequestApproval(ctx, task.PlannedStep{Tool: step.Tool, Params: resolved, Rationale: step.Rationale}, validation)
	a.endApprovalSpan(span, resp, err)

	if err != nil {
		return nil, err
	}
	a.state.LogEvent(tc.ID, "approval_resolved", map[string]any{
		"step":     idx,
		"tool":     step.Tool,
		"approved": resp.Approved,
		"approver": resp.Approver,
	})
	return resp, nil
}

// checkpointRollback persists the undo script for a schema change. The
// script comes from the step's own rollback_sql parameter or from a prior
// step's rollback_sql output.
func (a *Agent) checkpointRollback(tc *task.Context, idx int, toolName string,
	resolved map[string]any, outputs []map[string]any) (string, error) {

	script, _ := resolved["rollback_sql"].(string)
	if script == "" {
		for j := len(outputs) - 1; j >= 0; j-- {
			if s, ok := outputs[j]["rollback_sql"].(string); ok && s != "" {
				script = s
				break
			}
		}
	}
	if script == "" {
		return "", fmt.Errorf("schema change %s has no rollback script to checkpoint", toolName)
	}
	return a.state.SaveCheckpoint(tc.ID, fmt.Sprintf("step_%d_rollback", idx), rollbackPayload{
		Step:        idx,
		Tool:        toolName,
		RollbackSQL: script,
	})
}

// executeStep runs one step with retries. Only domain tool errors are
// retried; schema and timeout failures are final for the step.
func (a *Agent) executeStep(ctx context.Context, tc *task.Context, idx int, toolName string,
	params map[string]any, ec *tool.ExecContext) (map[string]any, int, error) {

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		a.state.LogEvent(tc.ID, "step_start", map[string]any{
			"step":    idx,
			"tool":    toolName,
			"attempt": attempt,
		})

		stepCtx := ctx
		var cancel context.CancelFunc
		if a.cfg.StepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, a.cfg.StepTimeout)
		}
		sctx, span := a.startStepSpan(stepCtx, tc, idx, toolName, attempt)
		output, err := a.registry.Execute(sctx, toolName, params, ec)
		a.endStepSpan(span, err)
		if cancel != nil {
			cancel()
		}

		a.state.LogEvent(tc.ID, "step_end", map[string]any{
			"step":    idx,
			"tool":    toolName,
			"attempt": attempt,
			"ok":      err == nil,
		})

		if err == nil {
			return output, attempt, nil
		}
		lastErr = err

		var execErr *tool.ExecutionError
		if !errors.As(err, &execErr) {
			// Validation and timeout errors are not retryable.
			return nil, attempt, err
		}
		a.logger.Warn("step failed, retrying", map[string]interface{}{
			"task":    tc.ID,
			"step":    idx,
			"tool":    toolName,
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	return nil, a.cfg.MaxRetries, fmt.Errorf("step %d exhausted %d attempts: %w", idx, a.cfg.MaxRetries, lastErr)
}

// aggregateOutputs keys each step's output by its index.
func aggregateOutputs(outputs []map[string]any) map[string]any {
	agg := make(map[string]any, len(outputs))
	for i, out := range outputs {
		agg[fmt.Sprintf("step_%d", i)] = out
	}
	return agg
}

// failure builds a terminal failure result preserving partial history.
func (a *Agent) failure(tc *task.Context, plan []task.PlannedStep, actions []task.ExecutedAction,
	start time.Time, err error) *task.Result {

	a.state.LogEvent(tc.ID, "task_failed", map[string]any{
		"agent": a.cfg.ID,
		"error": err.Error(),
	})
	return &task.Result{
		TaskID:       tc.ID,
		AgentID:      a.cfg.ID,
		Status:       task.StatusFailure,
		ActionsTaken: actions,
		Error:        err.Error(),
		Duration:     time.Since(start),
	}
}

// Resume continues a task from its latest checkpoint. Planning is not
// idempotent, so recovery reuses the persisted plan and never calls the
// planner again when a plan checkpoint exists.
func (a *Agent) Resume(ctx context.Context, tc *task.Context) (*task.Result, error) {
	start := time.Now()

	latest, err := a.state.LatestCheckpoint(tc.ID)
	if err != nil {
		return nil, fmt.Errorf("loading latest checkpoint: %w", err)
	}
	if latest == nil {
		// Nothing persisted yet; a fresh run is the only option.
		return a.Run(ctx, tc)
	}

	cps, err := a.state.TaskCheckpoints(tc.ID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoints: %w", err)
	}

	var plan []task.PlannedStep
	var outputs []map[string]any
	var checkpointIDs []string
	var actions []task.ExecutedAction
	resumeAt := 0

	for _, cp := range cps {
		checkpointIDs = append(checkpointIDs, cp.ID)
		switch {
		case cp.Label == "plan_created":
			var pp planPayload
			if err := json.Unmarshal(cp.Payload, &pp); err != nil {
				return nil, fmt.Errorf("corrupt plan checkpoint: %w", err)
			}
			plan = pp.Plan
		case strings.HasSuffix(cp.Label, "_completed") && strings.HasPrefix(cp.Label, "step_"):
			var sp stepPayload
			if err := json.Unmarshal(cp.Payload, &sp); err != nil {
				return nil, fmt.Errorf("corrupt step checkpoint: %w", err)
			}
			for len(outputs) <= sp.Step {
				outputs = append(outputs, nil)
			}
			outputs[sp.Step] = sp.Output
			actions = append(actions, task.ExecutedAction{
				Step:     sp.Step,
				Tool:     sp.Tool,
				Params:   sp.Params,
				Output:   sp.Output,
				Status:   task.StatusSuccess,
				Attempts: sp.Attempts,
			})
			if sp.Step+1 > resumeAt {
				resumeAt = sp.Step + 1
			}
		}
	}

	if plan == nil {
		return a.Run(ctx, tc)
	}

	a.logger.Info("resuming task", map[string]interface{}{
		"task":      tc.ID,
		"resume_at": resumeAt,
		"of":        len(plan),
	})
	a.state.LogEvent(tc.ID, "task_resumed", map[string]any{
		"agent":     a.cfg.ID,
		"resume_at": resumeAt,
	})

	ctx, span := a.startTaskSpan(ctx, tc)
	res := a.executeFrom(ctx, tc, plan, resumeAt, outputs, checkpointIDs, actions, start)
	a.endTaskSpan(span, res)
	return res, nil
}
