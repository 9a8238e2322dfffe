// Package safety classifies steps by risk and gates risky ones behind
// approval.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/openclaw/aishell/internal/task"
	"github.com/openclaw/aishell/internal/tool"
)

// Level is an agent's configured safety posture.
type Level string

const (
	LevelStrict     Level = "strict"
	LevelModerate   Level = "moderate"
	LevelPermissive Level = "permissive"
)

// ParseLevel validates a safety level string.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelStrict, LevelModerate, LevelPermissive:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown safety level %q", s)
}

// Validation is the safety record for one step.
type Validation struct {
	Tool             string   `json:"tool"`
	Risk             tool.RiskLevel `json:"risk"`
	RequiresApproval bool     `json:"requires_approval"`
	// MinApprovals > 1 means multi-party approval: that many distinct
	// approvers must confirm.
	MinApprovals int      `json:"min_approvals"`
	Risks        []string `json:"risks,omitempty"`
	Mitigations  []string `json:"mitigations,omitempty"`
}

// ConstraintViolationError reports a hard safety constraint broken.
// Hard violations fail validation outright; no approval is offered.
type ConstraintViolationError struct {
	Constraint string
	Reason     string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("safety constraint %s violated: %s", e.Constraint, e.Reason)
}

// ApprovalRejectedError distinguishes an explicit human rejection from a
// technical failure.
type ApprovalRejectedError struct {
	Approver string
	Reason   string
}

func (e *ApprovalRejectedError) Error() string {
	if e.Approver != "" {
		return fmt.Sprintf("approval rejected by %s: %s", e.Approver, e.Reason)
	}
	return fmt.Sprintf("approval rejected: %s", e.Reason)
}

// Controller decides whether steps require approval and collects
// approvals through a pluggable sink.
type Controller struct {
	sink            ApprovalSink
	logger          *logging.Logger
	approvalTimeout time.Duration

	mu          sync.RWMutex
	policy      *Policy
	constraints []Constraint

	auditMu sync.Mutex
	audit   []AuditEntry
}

// Options configures a Controller.
type Options struct {
	Sink ApprovalSink
	// Policy provides destructive-operation names and declared constraints.
	Policy *Policy
	// Extra constraints beyond the policy file.
	Constraints []Constraint
	// ApprovalTimeout bounds each approval wait; zero blocks until the
	// sink answers or the context ends.
	ApprovalTimeout time.Duration
}

// NewController creates a safety controller.
func NewController(opts Options) *Controller {
	pol := opts.Policy
	if pol == nil {
		pol = &Policy{MinApprovals: 2}
	}
	c := &Controller{
		sink:            opts.Sink,
		logger:          logging.New().WithComponent("safety"),
		approvalTimeout: opts.ApprovalTimeout,
		policy:          pol,
	}
	c.constraints = append(c.constraints, pol.Constraints()...)
	c.constraints = append(c.constraints, opts.Constraints...)
	return c
}

// SetPolicy swaps the active policy. Used by the hot-reload watcher.
func (c *Controller) SetPolicy(pol *Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = pol
	c.constraints = pol.Constraints()
	c.logger.Info("safety policy updated", map[string]interface{}{
		"destructive_operations": len(pol.DestructiveOperations),
	})
}

// Validate classifies a step. The returned record says whether the step
// needs approval and how many approvers; a hard constraint violation
// fails validation with ConstraintViolationError instead.
func (c *Controller) Validate(step task.PlannedStep, def *tool.Definition, level Level) (*Validation, error) {
	c.mu.RLock()
	pol := c.policy
	constraints := c.constraints
	c.mu.RUnlock()

	v := &Validation{
		Tool:         def.Name,
		Risk:         def.Risk,
		MinApprovals: 1,
	}

	if def.RequiresApproval {
		v.RequiresApproval = true
		v.Risks = append(v.Risks, "tool is marked approval-required")
	}

	switch {
	case level == LevelStrict && def.Risk >= tool.RiskHigh:
		v.RequiresApproval = true
		v.Risks = append(v.Risks, fmt.Sprintf("risk %s under strict safety level", def.Risk))
	case level == LevelModerate && def.Risk == tool.RiskCritical:
		v.RequiresApproval = true
		v.Risks = append(v.Risks, "critical risk under moderate safety level")
	}

	// Schema-modifying tools are gated regardless of safety level.
	if def.Category == tool.CategorySchemaChange {
		v.RequiresApproval = true
		v.Risks = append(v.Risks, "schema-modifying operation")
		v.Mitigations = append(v.Mitigations, "rollback script checkpointed before execution")
	}

	if pol.IsDestructive(def.Name) {
		v.RequiresApproval = true
		if pol.MinApprovals > v.MinApprovals {
			v.MinApprovals = pol.MinApprovals
		}
		v.Risks = append(v.Risks, "listed destructive operation; multi-party approval required")
	}

	for _, cons := range constraints {
		res := cons.Check(step, def)
		if res == nil || !res.Violated {
			continue
		}
		if res.Hard {
			c.logger.Warn("hard constraint violated", map[string]interface{}{
				"tool":       def.Name,
				"constraint": cons.Name(),
				"reason":     res.Reason,
			})
			return nil, &ConstraintViolationError{Constraint: cons.Name(), Reason: res.Reason}
		}
		v.RequiresApproval = true
		v.Risks = append(v.Risks, fmt.Sprintf("constraint %s: %s", cons.Name(), res.Reason))
	}

	return v, nil
}

// RequestApproval collects approvals for a validated step through the
// configured sink. Multi-party validations need MinApprovals distinct
// approvers; the first rejection wins. Every request and response is
// appended to the audit log.
func (c *Controller) RequestApproval(ctx context.Context, step task.PlannedStep, v *Validation) (*Response, error) {
	if c.sink == nil {
		return nil, fmt.Errorf("approval required for %s but no approval sink configured", v.Tool)
	}

	if c.approvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.approvalTimeout)
		defer cancel()
	}

	req := &Request{Step: step, Validation: v, Timestamp: time.Now().UTC()}
	approvers := make(map[string]bool)

	for len(approvers) < v.MinApprovals {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("approval wait ended: %w", err)
		}
		c.appendAudit(AuditEntry{Kind: "request", Request: req, Timestamp: time.Now().UTC()})

		resp, err := c.sink.Approve(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("approval sink: %w", err)
		}
		if resp.Timestamp.IsZero() {
			resp.Timestamp = time.Now().UTC()
		}
		c.appendAudit(AuditEntry{Kind: "response", Request: req, Response: resp, Timestamp: resp.Timestamp})

		c.logger.Info("approval response", map[string]interface{}{
			"tool":     v.Tool,
			"approved": resp.Approved,
			"approver": resp.Approver,
		})

		if !resp.Approved {
			return resp, nil
		}
		if resp.Approver == "" {
			resp.Approver = "anonymous"
		}
		if approvers[resp.Approver] && v.MinApprovals > 1 {
			// Same approver confirming twice does not count twice.
			continue
		}
		approvers[resp.Approver] = true

		if len(approvers) >= v.MinApprovals {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("approval loop ended without decision for %s", v.Tool)
}

func (c *Controller) appendAudit(entry AuditEntry) {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	c.audit = append(c.audit, entry)
}

// Audit returns a copy of the approval audit log.
func (c *Controller) Audit() []AuditEntry {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	out := make([]AuditEntry, len(c.audit))
	copy(out, c.audit)
	return out
}
