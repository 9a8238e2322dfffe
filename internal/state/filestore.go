package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists checkpoints and events as per-task JSONL files under
// a base directory. Appends are flushed before returning so a crash never
// loses an acknowledged checkpoint.
type FileStore struct {
	dir string

	mu    sync.Mutex
	byID  map[string]*Checkpoint
	tasks map[string][]*Checkpoint
}

// NewFileStore opens (or creates) a file store rooted at dir and loads the
// existing checkpoint index.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	s := &FileStore{
		dir:   dir,
		byID:  make(map[string]*Checkpoint),
		tasks: make(map[string][]*Checkpoint),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) taskDir(taskID string) string {
	return filepath.Join(s.dir, sanitizeID(taskID))
}

// sanitizeID keeps task ids usable as directory names.
func sanitizeID(id string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	return replacer.Replace(id)
}

func (s *FileStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name(), "checkpoints.jsonl")
		cps, err := readCheckpointLog(path)
		if err != nil {
			return err
		}
		for _, cp := range cps {
			s.byID[cp.ID] = cp
			s.tasks[cp.TaskID] = append(s.tasks[cp.TaskID], cp)
		}
	}
	return nil
}

func readCheckpointLog(path string) ([]*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var cps []*Checkpoint
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint log %s: %w", path, err)
		}
		cps = append(cps, &cp)
	}
	return cps, scanner.Err()
}

// AppendCheckpoint writes the checkpoint to the task log and syncs it.
func (s *FileStore) AppendCheckpoint(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.taskDir(cp.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := appendJSONL(filepath.Join(dir, "checkpoints.jsonl"), cp); err != nil {
		return err
	}
	s.byID[cp.ID] = cp
	s.tasks[cp.TaskID] = append(s.tasks[cp.TaskID], cp)
	return nil
}

func appendJSONL(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// CheckpointByID returns a checkpoint from the index.
func (s *FileStore) CheckpointByID(id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.byID[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return cp, nil
}

// Checkpoints returns a task's checkpoints ordered by sequence. The log is
// written in sequence order, so append order is sequence order.
func (s *FileStore) Checkpoints(taskID string) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cps := s.tasks[taskID]
	out := make([]*Checkpoint, len(cps))
	copy(out, cps)
	return out, nil
}

// AppendEvent appends to the task's event log.
func (s *FileStore) AppendEvent(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.taskDir(ev.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return appendJSONL(filepath.Join(dir, "events.jsonl"), ev)
}

// Events reads back the task's event log in append order.
func (s *FileStore) Events(taskID string) ([]*Event, error) {
	s.mu.Lock()
	path := filepath.Join(s.taskDir(taskID), "events.jsonl")
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("corrupt event log %s: %w", path, err)
		}
		events = append(events, &ev)
	}
	return events, scanner.Err()
}

// Close is a no-op for the file store; appends are synced as they happen.
func (s *FileStore) Close() error { return nil }
