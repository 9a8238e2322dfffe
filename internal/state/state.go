// Package state provides checkpoint persistence and execution event logs
// for crash recovery and audit.
package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
)

// Checkpoint is an immutable, sequence-numbered snapshot of task progress.
// Sequence numbers per task are strictly increasing and gap-free; the
// sequence is the recovery cursor.
type Checkpoint struct {
	ID        string          `json:"checkpoint_id"`
	TaskID    string          `json:"task_id"`
	Label     string          `json:"label"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp_utc"`
	Sequence  uint64          `json:"sequence"`
}

// Event is one entry of the append-only audit trail. Events are never used
// for control-flow decisions.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp_utc"`
}

// NotFoundError is returned when a checkpoint id is unknown.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkpoint not found: %s", e.ID)
}

// Store persists checkpoints and events. Implementations must keep
// checkpoints append-only and return them ordered by sequence.
type Store interface {
	AppendCheckpoint(cp *Checkpoint) error
	CheckpointByID(id string) (*Checkpoint, error)
	Checkpoints(taskID string) ([]*Checkpoint, error)
	AppendEvent(ev *Event) error
	Events(taskID string) ([]*Event, error)
	Close() error
}

// Manager owns checkpoint sequencing. Agents never touch the store
// directly; all persistence goes through here.
type Manager struct {
	store  Store
	logger *logging.Logger

	mu   sync.Mutex
	seqs map[string]uint64 // last allocated sequence per task
}

// NewManager creates a state manager on top of a store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:  store,
		logger: logging.New().WithComponent("state"),
		seqs:   make(map[string]uint64),
	}
}

// SaveCheckpoint persists a checkpoint with the next sequence number for
// the task and returns its id. Allocation and append happen under one
// lock so no two checkpoints of a task share a sequence and a failed
// append never consumes a number.
func (m *Manager) SaveCheckpoint(taskID, label string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling checkpoint payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	last, err := m.lastSequenceLocked(taskID)
	if err != nil {
		return "", err
	}

	cp := &Checkpoint{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Label:     label,
		Payload:   data,
		Timestamp: time.Now().UTC(),
		Sequence:  last + 1,
	}
	if err := m.store.AppendCheckpoint(cp); err != nil {
		return "", fmt.Errorf("persisting checkpoint: %w", err)
	}
	m.seqs[taskID] = cp.Sequence

	m.logger.Debug("checkpoint saved", map[string]interface{}{
		"task":     taskID,
		"label":    label,
		"sequence": cp.Sequence,
	})
	return cp.ID, nil
}

// lastSequenceLocked returns the last allocated sequence for taskID,
// loading it from the store the first time the task is seen (recovery
// after restart).
func (m *Manager) lastSequenceLocked(taskID string) (uint64, error) {
	if seq, ok := m.seqs[taskID]; ok {
		return seq, nil
	}
	cps, err := m.store.Checkpoints(taskID)
	if err != nil {
		return 0, fmt.Errorf("loading checkpoints for %s: %w", taskID, err)
	}
	var last uint64
	if len(cps) > 0 {
		last = cps[len(cps)-1].Sequence
	}
	m.seqs[taskID] = last
	return last, nil
}

// GetCheckpoint returns a checkpoint by id.
func (m *Manager) GetCheckpoint(id string) (*Checkpoint, error) {
	return m.store.CheckpointByID(id)
}

// ListCheckpoints returns the checkpoint ids of a task ordered by sequence.
func (m *Manager) ListCheckpoints(taskID string) ([]string, error) {
	cps, err := m.store.Checkpoints(taskID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(cps))
	for i, cp := range cps {
		ids[i] = cp.ID
	}
	return ids, nil
}

// TaskCheckpoints returns the full checkpoints of a task ordered by
// sequence. Used by recovery and replay.
func (m *Manager) TaskCheckpoints(taskID string) ([]*Checkpoint, error) {
	return m.store.Checkpoints(taskID)
}

// LatestCheckpoint returns the highest-sequence checkpoint of a task, or
// nil when the task has none.
func (m *Manager) LatestCheckpoint(taskID string) (*Checkpoint, error) {
	cps, err := m.store.Checkpoints(taskID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}
	return cps[len(cps)-1], nil
}

// Restore returns the payload of a checkpoint. Pure read.
func (m *Manager) Restore(checkpointID string) (json.RawMessage, error) {
	cp, err := m.store.CheckpointByID(checkpointID)
	if err != nil {
		return nil, err
	}
	return cp.Payload, nil
}

// LogEvent appends to the task's audit trail. Failures are logged and
// swallowed: the audit trail must never affect execution.
func (m *Manager) LogEvent(taskID, eventType string, data map[string]any) {
	ev := &Event{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if err := m.store.AppendEvent(ev); err != nil {
		m.logger.Warn("event append failed", map[string]interface{}{
			"task":  taskID,
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

// Events returns the audit trail of a task in append order.
func (m *Manager) Events(taskID string) ([]*Event, error) {
	return m.store.Events(taskID)
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
