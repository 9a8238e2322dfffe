// Tracing instrumentation for agent runs.
package agent

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclaw/aishell/internal/safety"
	"github.com/openclaw/aishell/internal/task"
)

// startTaskSpan starts a span covering one task run.
func (a *Agent) startTaskSpan(ctx context.Context, tc *task.Context) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "task.run")
	span.SetAttributes(
		attribute.String("task.id", tc.ID),
		attribute.String("agent.id", a.cfg.ID),
		attribute.String("agent.type", a.cfg.Type),
	)
	return ctx, span
}

// endTaskSpan ends the task span with result info.
func (a *Agent) endTaskSpan(span trace.Span, res *task.Result) {
	span.SetAttributes(
		attribute.String("task.status", string(res.Status)),
		attribute.Int("task.actions", len(res.ActionsTaken)),
	)
	if res.Error != "" {
		span.SetAttributes(attribute.String("task.error", res.Error))
	}
	span.End()
}

// startStepSpan starts a span for one tool execution attempt.
func (a *Agent) startStepSpan(ctx context.Context, tc *task.Context, idx int, toolName string, attempt int) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "step."+toolName)
	span.SetAttributes(
		attribute.String("task.id", tc.ID),
		attribute.Int("step.index", idx),
		attribute.String("step.tool", toolName),
		attribute.Int("step.attempt", attempt),
	)
	return ctx, span
}

// endStepSpan ends the step span.
func (a *Agent) endStepSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startApprovalSpan starts a span covering an approval wait.
func (a *Agent) startApprovalSpan(ctx context.Context, tc *task.Context, toolName string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "approval.wait")
	span.SetAttributes(
		attribute.String("task.id", tc.ID),
		attribute.String("approval.tool", toolName),
	)
	return ctx, span
}

// endApprovalSpan ends the approval span with the decision.
func (a *Agent) endApprovalSpan(span trace.Span, resp *safety.Response, err error) {
	if resp != nil {
		span.SetAttributes(
			attribute.Bool("approval.approved", resp.Approved),
			attribute.String("approval.approver", resp.Approver),
		)
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
