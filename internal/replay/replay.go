package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/aishell/internal/state"
)

// Replayer reads and formats a task's persisted trail.
type Replayer struct {
	output  io.Writer
	state   *state.Manager
	verbose bool
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithVerbose includes full checkpoint payloads in the output.
func WithVerbose() Option {
	return func(r *Replayer) { r.verbose = true }
}

// New creates a Replayer over a state manager.
func New(output io.Writer, mgr *state.Manager, opts ...Option) *Replayer {
	r := &Replayer{output: output, state: mgr}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// entry is one row of the merged timeline.
type entry struct {
	at         time.Time
	checkpoint *state.Checkpoint
	event      *state.Event
}

// Replay writes the task's merged checkpoint and event timeline.
func (r *Replayer) Replay(taskID string) error {
	cps, err := r.state.TaskCheckpoints(taskID)
	if err != nil {
		return fmt.Errorf("loading checkpoints: %w", err)
	}
	evs, err := r.state.Events(taskID)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}
	if len(cps) == 0 && len(evs) == 0 {
		return fmt.Errorf("no trail recorded for task %s", taskID)
	}

	entries := make([]entry, 0, len(cps)+len(evs))
	for _, cp := range cps {
		entries = append(entries, entry{at: cp.Timestamp, checkpoint: cp})
	}
	for _, ev := range evs {
		entries = append(entries, entry{at: ev.Timestamp, event: ev})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	r.printHeader(taskID, entries)
	r.printTimeline(entries)
	r.printSummary(cps, evs)
	return nil
}

// ReplayInteractive renders the timeline into an interactive pager.
func (r *Replayer) ReplayInteractive(taskID string) error {
	var buf strings.Builder
	oldOutput := r.output
	r.output = &buf
	err := r.Replay(taskID)
	r.output = oldOutput
	if err != nil {
		return err
	}

	p := NewPager(fmt.Sprintf("Task: %s", taskID))
	return p.Run(buf.String())
}

// ReplayLive renders the timeline into a pager that refreshes when the
// task's trail file changes. Only meaningful for the file store backend.
func (r *Replayer) ReplayLive(taskID, watchPath string) error {
	render := func() (string, error) {
		var buf strings.Builder
		oldOutput := r.output
		r.output = &buf
		err := r.Replay(taskID)
		r.output = oldOutput
		if err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	p := NewPager(fmt.Sprintf("Task: %s (LIVE)", taskID))
	return p.RunLive(watchPath, render)
}

func (r *Replayer) printHeader(taskID string, entries []entry) {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TASK"), valueStyle.Render(taskID))
	fmt.Fprintln(r.output, divider)
	if len(entries) > 0 {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Started: "),
			valueStyle.Render(entries[0].at.Format(time.RFC3339)))
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Duration:"),
			valueStyle.Render(entries[len(entries)-1].at.Sub(entries[0].at).Round(time.Millisecond).String()))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(entries []entry) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"),
		dimStyle.Render(fmt.Sprintf("(%d entries)", len(entries))))
	fmt.Fprintln(r.output, divider)

	for i, e := range entries {
		prefix := fmt.Sprintf("%s %s",
			seqStyle.Render(fmt.Sprintf("%d", i+1)),
			dimStyle.Render(e.at.Format("15:04:05.000")))
		switch {
		case e.checkpoint != nil:
			r.printCheckpoint(prefix, e.checkpoint)
		case e.event != nil:
			r.printEvent(prefix, e.event)
		}
	}
}

func (r *Replayer) printCheckpoint(prefix string, cp *state.Checkpoint) {
	fmt.Fprintf(r.output, "%s │ %s %s %s\n", prefix,
		checkpointStyle.Render("CHECKPOINT"),
		valueStyle.Render(cp.Label),
		dimStyle.Render(fmt.Sprintf("seq=%d", cp.Sequence)))
	if r.verbose && len(cp.Payload) > 0 {
		fmt.Fprintf(r.output, "%s\n", dimStyle.Render(indentJSON(cp.Payload)))
	}
}

func (r *Replayer) printEvent(prefix string, ev *state.Event) {
	style := stateStyle
	switch ev.Type {
	case "approval_requested", "approval_resolved":
		style = approvalStyle
	case "task_completed":
		style = successStyle
	case "task_failed":
		style = errorStyle
	case "step_start", "step_end":
		style = valueStyle
	}
	fmt.Fprintf(r.output, "%s │ %s %s\n", prefix,
		style.Render(strings.ToUpper(ev.Type)),
		dimStyle.Render(formatData(ev.Data)))
}

func (r *Replayer) printSummary(cps []*state.Checkpoint, evs []*state.Event) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)

	switch {
	case hasEvent(evs, "task_completed"):
		fmt.Fprintln(r.output, successStyle.Render("COMPLETED"))
	case hasEvent(evs, "task_failed"):
		fmt.Fprintln(r.output, errorStyle.Render("FAILED"))
	default:
		fmt.Fprintln(r.output, warnStyle.Render("IN PROGRESS"))
	}

	stats := ComputeStats(cps, evs)
	PrintStats(r.output, stats)
}

func hasEvent(evs []*state.Event, eventType string) bool {
	for _, ev := range evs {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

// formatData renders event data as stable key=value pairs.
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "        ", "  "); err != nil {
		return "        " + string(raw)
	}
	return "        " + buf.String()
}
