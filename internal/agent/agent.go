// Package agent implements the execution state machine that turns a task
// into a validated, steppable plan and runs it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/openclaw/aishell/internal/planner"
	"github.com/openclaw/aishell/internal/safety"
	"github.com/openclaw/aishell/internal/state"
	"github.com/openclaw/aishell/internal/tool"
)

// State is the agent's position in its lifecycle. One agent instance
// occupies exactly one state at a time; transitions happen only in the
// run loop.
type State string

const (
	StateIdle            State = "idle"
	StatePlanning        State = "planning"
	StateExecuting       State = "executing"
	StateWaitingApproval State = "waiting_approval"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StatePaused          State = "paused"
	StateCancelled       State = "cancelled"
)

// Config is fixed at agent creation and immutable for its lifetime.
type Config struct {
	ID           string
	Type         string
	Capabilities []string
	SafetyLevel  safety.Level
	// MaxRetries is the total number of attempts per step for retryable
	// tool errors. Zero means one attempt.
	MaxRetries  int
	StepTimeout time.Duration
}

// Agent executes one task at a time. It owns its mutable execution state
// (plan, history) exclusively for the duration of a run.
type Agent struct {
	cfg      Config
	registry *tool.Registry
	safety   *safety.Controller
	state    *state.Manager
	planner  planner.Planner
	logger   *logging.Logger

	mu       sync.Mutex
	st       State
	paused   bool
	resumeCh chan struct{}
	cancel   bool
}

// New creates an agent over shared infrastructure. The registry, safety
// controller and state manager are shared across agents; the planner may
// be shared or per-agent.
func New(cfg Config, registry *tool.Registry, safetyCtl *safety.Controller, stateMgr *state.Manager, pl planner.Planner) *Agent {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.SafetyLevel == "" {
		cfg.SafetyLevel = safety.LevelModerate
	}
	return &Agent{
		cfg:      cfg,
		registry: registry,
		safety:   safetyCtl,
		state:    stateMgr,
		planner:  pl,
		logger:   logging.New().WithComponent("agent"),
		st:       StateIdle,
	}
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st
}

// Config returns the agent's immutable configuration.
func (a *Agent) Config() Config { return a.cfg }

func (a *Agent) setState(taskID string, next State) {
	a.mu.Lock()
	prev := a.st
	a.st = next
	a.mu.Unlock()

	a.logger.Debug("state transition", map[string]interface{}{
		"agent": a.cfg.ID,
		"from":  string(prev),
		"to":    string(next),
	})
	a.state.LogEvent(taskID, "agent_state", map[string]any{
		"agent": a.cfg.ID,
		"from":  string(prev),
		"to":    string(next),
	})
}

// Cancel requests cooperative cancellation, observed at the next step
// boundary. A step already submitted to a tool runs to completion or its
// own timeout.
func (a *Agent) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = true
	if a.paused {
		a.paused = false
		close(a.resumeCh)
	}
}

// Pause suspends execution at the next step boundary.
func (a *Agent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		a.paused = true
		a.resumeCh = make(chan struct{})
	}
}

// Unpause releases a paused agent.
func (a *Agent) Unpause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		a.paused = false
		close(a.resumeCh)
	}
}

// checkBoundary blocks while paused and reports whether execution should
// stop because of cancellation or context expiry.
func (a *Agent) checkBoundary(ctx context.Context, taskID string) error {
	for {
		a.mu.Lock()
		if a.cancel {
			a.mu.Unlock()
			return errCancelled
		}
		if !a.paused {
			a.mu.Unlock()
			return ctx.Err()
		}
		ch := a.resumeCh
		a.setStateLocked(taskID, StatePaused)
		a.mu.Unlock()

		select {
		case <-ch:
			a.setState(taskID, StateExecuting)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Agent) setStateLocked(taskID string, next State) {
	prev := a.st
	a.st = next
	a.state.LogEvent(taskID, "agent_state", map[string]any{
		"agent": a.cfg.ID,
		"from":  string(prev),
		"to":    string(next),
	})
}

var errCancelled = errors.New("task cancelled")

// UnresolvedReferenceError indicates a malformed plan: a substitution
// token names a step that has not run or a field the output lacks.
type UnresolvedReferenceError struct {
	Token  string
	Reason string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %s: %s", e.Token, e.Reason)
}
