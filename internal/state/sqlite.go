package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists checkpoints and events in a SQLite database. The
// unique (task_id, sequence) index backs the gap-free invariant even if a
// buggy caller bypasses the manager's sequencing.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id        TEXT PRIMARY KEY,
	task_id   TEXT NOT NULL,
	label     TEXT NOT NULL,
	payload   BLOB NOT NULL,
	timestamp TEXT NOT NULL,
	sequence  INTEGER NOT NULL,
	UNIQUE (task_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints (task_id, sequence);

CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	task_id   TEXT NOT NULL,
	type      TEXT NOT NULL,
	data      BLOB,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_task ON events (task_id, timestamp);
`

// NewSQLiteStore opens (or creates) a SQLite-backed store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// AppendCheckpoint inserts the checkpoint row.
func (s *SQLiteStore) AppendCheckpoint(cp *Checkpoint) error {
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (id, task_id, label, payload, timestamp, sequence) VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.TaskID, cp.Label, []byte(cp.Payload), cp.Timestamp.Format(time.RFC3339Nano), cp.Sequence,
	)
	return err
}

// CheckpointByID fetches one checkpoint.
func (s *SQLiteStore) CheckpointByID(id string) (*Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT id, task_id, label, payload, timestamp, sequence FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	return cp, err
}

// Checkpoints returns a task's checkpoints ordered by sequence.
func (s *SQLiteStore) Checkpoints(taskID string) ([]*Checkpoint, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, label, payload, timestamp, sequence FROM checkpoints WHERE task_id = ? ORDER BY sequence`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var payload []byte
	var ts string
	if err := row.Scan(&cp.ID, &cp.TaskID, &cp.Label, &payload, &ts, &cp.Sequence); err != nil {
		return nil, err
	}
	cp.Payload = json.RawMessage(payload)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("corrupt checkpoint timestamp %q: %w", ts, err)
	}
	cp.Timestamp = t
	return &cp, nil
}

// AppendEvent inserts an audit event row.
func (s *SQLiteStore) AppendEvent(ev *Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO events (id, task_id, type, data, timestamp) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.TaskID, ev.Type, data, ev.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

// Events returns a task's audit trail in append order.
func (s *SQLiteStore) Events(taskID string) ([]*Event, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, type, data, timestamp FROM events WHERE task_id = ? ORDER BY timestamp, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var data []byte
		var ts string
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Type, &data, &ts); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, err
			}
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		ev.Timestamp = t
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
