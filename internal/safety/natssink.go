package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink forwards approval requests over a NATS subject and waits for a
// reply. An external approver service (chat bot, ops console) subscribes
// to the subject and answers with a Response JSON document.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSSink connects to a NATS server. timeout bounds each request;
// zero means 5 minutes.
func NewNATSSink(url, subject string, timeout time.Duration) (*NATSSink, error) {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	conn, err := nats.Connect(url, nats.Name("aishell-approvals"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject, timeout: timeout}, nil
}

// Approve publishes the request and decodes the reply.
func (s *NATSSink) Approve(ctx context.Context, req *Request) (*Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding approval request: %w", err)
	}

	reqCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg, err := s.conn.RequestWithContext(reqCtx, s.subject, data)
	if err != nil {
		return nil, fmt.Errorf("approval request over NATS: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decoding approval response: %w", err)
	}
	return &resp, nil
}

// Close drains the connection.
func (s *NATSSink) Close() {
	s.conn.Close()
}
