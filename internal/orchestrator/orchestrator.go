// Package orchestrator coordinates workflows: single-agent task runs and
// multi-agent DAGs decomposed from composite tasks.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/openclaw/aishell/internal/agent"
	"github.com/openclaw/aishell/internal/planner"
	"github.com/openclaw/aishell/internal/state"
	"github.com/openclaw/aishell/internal/task"
)

// WorkflowState is the lifecycle position of a workflow.
type WorkflowState string

const (
	WorkflowCreated         WorkflowState = "created"
	WorkflowRunning         WorkflowState = "running"
	WorkflowPaused          WorkflowState = "paused"
	WorkflowWaitingApproval WorkflowState = "waiting_approval"
	WorkflowCompleted       WorkflowState = "completed"
	WorkflowFailed          WorkflowState = "failed"
	WorkflowCancelled       WorkflowState = "cancelled"
)

// Status is a point-in-time snapshot of a workflow.
type Status struct {
	ID          string        `json:"workflow_id"`
	Description string        `json:"description"`
	State       WorkflowState `json:"state"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Error       string        `json:"error,omitempty"`
	// Results holds one entry per agent run; single-agent workflows have
	// exactly one.
	Results []*task.Result `json:"results,omitempty"`
}

// AgentFactory builds an agent of the requested type. The orchestrator
// owns no agent configuration itself.
type AgentFactory func(agentType string) (*agent.Agent, error)

// NotFoundError reports an unknown workflow id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow not found: %s", e.ID)
}

// CycleDetectedError reports a dependency cycle in a decomposition. It is
// raised before any subtask executes.
type CycleDetectedError struct {
	Cycle []int
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle through subtasks %v", e.Cycle)
}

// Options configures an Orchestrator.
type Options struct {
	Factory     AgentFactory
	Coordinator planner.Coordinator
	State       *state.Manager
	// MaxConcurrency bounds concurrently running subtasks in multi-agent
	// workflows. Zero means 4.
	MaxConcurrency int
	// Timeout bounds a whole workflow in wall-clock time. Zero means no
	// limit.
	Timeout time.Duration
}

// Orchestrator runs workflows and tracks their lifecycle. Safe for
// concurrent use.
type Orchestrator struct {
	factory     AgentFactory
	coordinator planner.Coordinator
	state       *state.Manager
	logger      *logging.Logger
	maxConc     int
	timeout     time.Duration

	mu        sync.Mutex
	workflows map[string]*workflow
}

// workflow is the orchestrator's internal record of one run.
type workflow struct {
	id          string
	description string
	st          WorkflowState
	startedAt   time.Time
	finishedAt  time.Time
	errText     string
	results     []*task.Result
	agents      []*agent.Agent
	cancel      context.CancelFunc
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	conc := opts.MaxConcurrency
	if conc <= 0 {
		conc = 4
	}
	return &Orchestrator{
		factory:     opts.Factory,
		coordinator: opts.Coordinator,
		state:       opts.State,
		logger:      logging.New().WithComponent("orchestrator"),
		maxConc:     conc,
		timeout:     opts.Timeout,
		workflows:   make(map[string]*workflow),
	}
}

// ExecuteWorkflow runs one task on one agent of the given type and blocks
// until it finishes. The returned status carries the workflow id for later
// queries.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, agentType, description string, input map[string]any) (*Status, error) {
	ag, err := o.factory(agentType)
	if err != nil {
		return nil, fmt.Errorf("creating %s agent: %w", agentType, err)
	}

	wf := o.register(description, []*agent.Agent{ag})
	ctx, cancel := o.workflowContext(ctx)
	defer cancel()
	o.setCancel(wf.id, cancel)
	o.setWorkflowState(wf.id, WorkflowRunning)

	o.logger.Info("workflow started", map[string]interface{}{
		"workflow": wf.id,
		"agent":    agentType,
	})

	tc := &task.Context{
		ID:          uuid.NewString(),
		Description: description,
		Input:       input,
		WorkflowID:  wf.id,
	}
	res, err := ag.Run(ctx, tc)
	if err != nil {
		o.finish(wf.id, WorkflowFailed, err.Error(), nil)
		return o.StatusOf(wf.id)
	}

	o.recordResult(wf.id, res)
	switch {
	case res.Status == task.StatusSuccess:
		o.finish(wf.id, WorkflowCompleted, "", nil)
	case ag.State() == agent.StateCancelled:
		o.finish(wf.id, WorkflowCancelled, res.Error, nil)
	default:
		o.finish(wf.id, WorkflowFailed, res.Error, nil)
	}
	return o.StatusOf(wf.id)
}

// StatusOf returns a snapshot of the workflow. While the workflow runs,
// the state reflects the live agents: any agent waiting for approval
// surfaces as WaitingApproval, any paused agent as Paused.
func (o *Orchestrator) StatusOf(id string) (*Status, error) {
	o.mu.Lock()
	wf, ok := o.workflows[id]
	if !ok {
		o.mu.Unlock()
		return nil, &NotFoundError{ID: id}
	}
	st := wf.st
	agents := wf.agents
	snap := &Status{
		ID:          wf.id,
		Description: wf.description,
		StartedAt:   wf.startedAt,
		FinishedAt:  wf.finishedAt,
		Error:       wf.errText,
		Results:     append([]*task.Result(nil), wf.results...),
	}
	o.mu.Unlock()

	if st == WorkflowRunning {
		for _, ag := range agents {
			switch ag.State() {
			case agent.StateWaitingApproval:
				st = WorkflowWaitingApproval
			case agent.StatePaused:
				if st == WorkflowRunning {
					st = WorkflowPaused
				}
			}
		}
	}
	snap.State = st
	return snap, nil
}

// Pause suspends all agents of the workflow at their next step boundary.
func (o *Orchestrator) Pause(id string) error {
	agents, err := o.liveAgents(id)
	if err != nil {
		return err
	}
	for _, ag := range agents {
		ag.Pause()
	}
	o.logger.Info("workflow pause requested", map[string]interface{}{"workflow": id})
	return nil
}

// Resume releases a paused workflow.
func (o *Orchestrator) Resume(id string) error {
	agents, err := o.liveAgents(id)
	if err != nil {
		return err
	}
	for _, ag := range agents {
		ag.Unpause()
	}
	o.logger.Info("workflow resumed", map[string]interface{}{"workflow": id})
	return nil
}

// Cancel requests cooperative cancellation of all the workflow's agents.
// Steps already running finish first.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	wf, ok := o.workflows[id]
	if !ok {
		o.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	agents := wf.agents
	cancel := wf.cancel
	o.mu.Unlock()

	for _, ag := range agents {
		ag.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	o.logger.Info("workflow cancel requested", map[string]interface{}{"workflow": id})
	return nil
}

// List returns a snapshot of every tracked workflow.
func (o *Orchestrator) List() []*Status {
	o.mu.Lock()
	ids := make([]string, 0, len(o.workflows))
	for id := range o.workflows {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	out := make([]*Status, 0, len(ids))
	for _, id := range ids {
		if st, err := o.StatusOf(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

func (o *Orchestrator) register(description string, agents []*agent.Agent) *workflow {
	wf := &workflow{
		id:          uuid.NewString(),
		description: description,
		st:          WorkflowCreated,
		startedAt:   time.Now().UTC(),
		agents:      agents,
	}
	o.mu.Lock()
	o.workflows[wf.id] = wf
	o.mu.Unlock()
	return wf
}

func (o *Orchestrator) workflowContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) setCancel(id string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf, ok := o.workflows[id]; ok {
		wf.cancel = cancel
	}
}

func (o *Orchestrator) setWorkflowState(id string, st WorkflowState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf, ok := o.workflows[id]; ok {
		wf.st = st
	}
}

func (o *Orchestrator) recordResult(id string, res *task.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf, ok := o.workflows[id]; ok {
		wf.results = append(wf.results, res)
	}
}

func (o *Orchestrator) finish(id string, st WorkflowState, errText string, results []*task.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, ok := o.workflows[id]
	if !ok {
		return
	}
	wf.st = st
	wf.errText = errText
	wf.finishedAt = time.Now().UTC()
	if results != nil {
		wf.results = results
	}
	o.logger.Info("workflow finished", map[string]interface{}{
		"workflow": id,
		"state":    string(st),
	})
}

// Close drops all tracked workflow records. Terminal workflows stay
// queryable until this point; the durable history is the task trail in the
// state store.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workflows = make(map[string]*workflow)
}

func (o *Orchestrator) liveAgents(id string) ([]*agent.Agent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, ok := o.workflows[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return wf.agents, nil
}
