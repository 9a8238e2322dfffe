package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openclaw/aishell/internal/agent"
	"github.com/openclaw/aishell/internal/task"
)

// subtaskOutcome is the scheduler's record of one finished subtask.
type subtaskOutcome struct {
	result  *task.Result
	ok      bool
	skipped bool
}

// ExecuteMultiAgentWorkflow decomposes a composite task and runs the
// resulting subtasks as a dependency DAG. Subtasks with no ordering
// between them run concurrently, bounded by MaxConcurrency. A failed
// subtask skips its dependents unless it is marked tolerant.
func (o *Orchestrator) ExecuteMultiAgentWorkflow(ctx context.Context, description string, input map[string]any) (*Status, error) {
	if o.coordinator == nil {
		return nil, fmt.Errorf("no coordinator configured for multi-agent workflows")
	}

	specs, err := o.coordinator.Decompose(ctx, &task.Context{
		ID:          uuid.NewString(),
		Description: description,
		Input:       input,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposing task: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("decomposition produced no subtasks")
	}

	// The DAG must be proven acyclic before anything runs.
	if cycle := findCycle(specs); cycle != nil {
		return nil, &CycleDetectedError{Cycle: cycle}
	}

	wf := o.register(description, nil)
	ctx, cancel := o.workflowContext(ctx)
	defer cancel()
	o.setCancel(wf.id, cancel)
	o.setWorkflowState(wf.id, WorkflowRunning)

	o.logger.Info("multi-agent workflow started", map[string]interface{}{
		"workflow": wf.id,
		"subtasks": len(specs),
	})

	outcomes := o.runDAG(ctx, wf.id, specs)

	results := make([]*task.Result, 0, len(outcomes))
	failed := false
	var firstErr string
	for i, out := range outcomes {
		if out.result != nil {
			results = append(results, out.result)
		}
		if !out.ok && !specs[i].Tolerant {
			failed = true
			if firstErr == "" && out.result != nil {
				firstErr = out.result.Error
			}
		}
	}

	if failed {
		if firstErr == "" {
			firstErr = "one or more subtasks failed"
		}
		o.finish(wf.id, WorkflowFailed, firstErr, results)
	} else {
		o.finish(wf.id, WorkflowCompleted, "", results)
	}
	return o.StatusOf(wf.id)
}

// runDAG schedules the subtasks. Each subtask gets a goroutine that waits
// for its dependencies' done channels, then acquires a concurrency slot
// and runs.
func (o *Orchestrator) runDAG(ctx context.Context, workflowID string, specs []task.SubtaskSpec) []subtaskOutcome {
	n := len(specs)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}
	outcomes := make([]subtaskOutcome, n)
	sem := make(chan struct{}, o.maxConc)
	var wg sync.WaitGroup

	for i := range specs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(done[i])
			spec := specs[i]

			for _, dep := range spec.DependsOn {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					outcomes[i] = o.skipOutcome(workflowID, i, spec, ctx.Err().Error())
					return
				}
				// A failed non-tolerant dependency poisons this subtask.
				if !outcomes[dep].ok && !specs[dep].Tolerant {
					outcomes[i] = o.skipOutcome(workflowID, i, spec,
						fmt.Sprintf("dependency subtask %d failed", dep))
					return
				}
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = o.skipOutcome(workflowID, i, spec, ctx.Err().Error())
				return
			}
			defer func() { <-sem }()

			outcomes[i] = o.runSubtask(ctx, workflowID, i, spec)
		}(i)
	}
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) runSubtask(ctx context.Context, workflowID string, idx int, spec task.SubtaskSpec) subtaskOutcome {
	ag, err := o.factory(spec.AgentType)
	if err != nil {
		return subtaskOutcome{
			result: &task.Result{
				TaskID: fmt.Sprintf("%s-sub%d", workflowID, idx),
				Status: task.StatusFailure,
				Error:  fmt.Sprintf("creating %s agent: %v", spec.AgentType, err),
			},
		}
	}
	o.addAgent(workflowID, ag)

	tc := &task.Context{
		ID:          fmt.Sprintf("%s-sub%d", workflowID, idx),
		Description: spec.Description,
		Input:       spec.Input,
		WorkflowID:  workflowID,
	}
	res, err := ag.Run(ctx, tc)
	if err != nil {
		return subtaskOutcome{
			result: &task.Result{TaskID: tc.ID, Status: task.StatusFailure, Error: err.Error()},
		}
	}
	o.logger.Info("subtask finished", map[string]interface{}{
		"workflow": workflowID,
		"subtask":  idx,
		"agent":    spec.AgentType,
		"status":   string(res.Status),
	})
	return subtaskOutcome{result: res, ok: res.Status == task.StatusSuccess}
}

func (o *Orchestrator) skipOutcome(workflowID string, idx int, spec task.SubtaskSpec, reason string) subtaskOutcome {
	o.logger.Warn("subtask skipped", map[string]interface{}{
		"workflow": workflowID,
		"subtask":  idx,
		"agent":    spec.AgentType,
		"reason":   reason,
	})
	return subtaskOutcome{
		skipped: true,
		result: &task.Result{
			TaskID: fmt.Sprintf("%s-sub%d", workflowID, idx),
			Status: task.StatusFailure,
			Error:  "skipped: " + reason,
		},
	}
}

func (o *Orchestrator) addAgent(id string, ag *agent.Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf, ok := o.workflows[id]; ok {
		wf.agents = append(wf.agents, ag)
	}
}

// findCycle returns the indices of a dependency cycle, or nil when the
// graph is acyclic. Out-of-range dependency indices are treated as a
// decomposition defect and surface as a self-loop on the offending node.
func findCycle(specs []task.SubtaskSpec) []int {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make([]int, len(specs))
	var path []int

	var visit func(i int) []int
	visit = func(i int) []int {
		color[i] = grey
		path = append(path, i)
		for _, dep := range specs[i].DependsOn {
			if dep < 0 || dep >= len(specs) {
				return []int{i}
			}
			switch color[dep] {
			case grey:
				// Slice the current path from the first occurrence of dep.
				for j, node := range path {
					if node == dep {
						return append(append([]int(nil), path[j:]...), dep)
					}
				}
				return []int{dep, i, dep}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		color[i] = black
		path = path[:len(path)-1]
		return nil
	}

	for i := range specs {
		if color[i] == white {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
