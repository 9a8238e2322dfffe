package safety

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openclaw/aishell/internal/task"
)

// Request is a step under review, handed to the approval sink.
type Request struct {
	Step       task.PlannedStep `json:"step"`
	Validation *Validation      `json:"validation"`
	Timestamp  time.Time        `json:"timestamp_utc"`
}

// Response is an approver's decision.
type Response struct {
	Approved   bool      `json:"approved"`
	Reason     string    `json:"reason,omitempty"`
	Approver   string    `json:"approver,omitempty"`
	Conditions []string  `json:"conditions,omitempty"`
	Timestamp  time.Time `json:"timestamp_utc"`
}

// AuditEntry is one line of the append-only approval audit log.
type AuditEntry struct {
	Kind      string    `json:"kind"` // request or response
	Request   *Request  `json:"request,omitempty"`
	Response  *Response `json:"response,omitempty"`
	Timestamp time.Time `json:"timestamp_utc"`
}

// ApprovalSink answers approval requests. Implementations may prompt a
// human, call a webhook, or decide programmatically.
type ApprovalSink interface {
	Approve(ctx context.Context, req *Request) (*Response, error)
}

// FuncSink adapts a function to the ApprovalSink interface.
type FuncSink func(ctx context.Context, req *Request) (*Response, error)

// Approve calls the function.
func (f FuncSink) Approve(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// InteractiveSink prompts on a terminal and reads a y/n answer.
type InteractiveSink struct {
	In       io.Reader
	Out      io.Writer
	Approver string
}

// Approve prints the step under review and blocks for an answer. The
// read itself is not interruptible; callers bound it with the
// controller's approval timeout.
func (s *InteractiveSink) Approve(ctx context.Context, req *Request) (*Response, error) {
	fmt.Fprintf(s.Out, "\nAPPROVAL REQUIRED: %s (risk=%s)\n", req.Validation.Tool, req.Validation.Risk)
	for _, r := range req.Validation.Risks {
		fmt.Fprintf(s.Out, "  risk: %s\n", r)
	}
	if req.Step.Rationale != "" {
		fmt.Fprintf(s.Out, "  rationale: %s\n", req.Step.Rationale)
	}
	fmt.Fprintf(s.Out, "Approve? [y/N]: ")

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		reader := bufio.NewReader(s.In)
		line, err := reader.ReadString('\n')
		ch <- answer{text: line, err: err}
	}()

	select {
	case a := <-ch:
		if a.err != nil && a.text == "" {
			return nil, fmt.Errorf("reading approval answer: %w", a.err)
		}
		text := strings.ToLower(strings.TrimSpace(a.text))
		approved := text == "y" || text == "yes"
		reason := "approved interactively"
		if !approved {
			reason = "rejected interactively"
		}
		return &Response{
			Approved:  approved,
			Reason:    reason,
			Approver:  s.Approver,
			Timestamp: time.Now().UTC(),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
