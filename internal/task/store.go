package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"podium/internal/logging"
)

// Store persists task records as one JSON file per task. Reads return the
// whole record; writes replace it wholesale.
type Store struct {
	dir    string
	logger logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logging.OrNop(logger),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// lock returns the per-task mutex, creating it on first use. Locks live for
// the life of the process.
func (s *Store) lock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	return l
}

func (s *Store) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

// Save replaces the task record on disk.
func (s *Store) Save(t *Task) error {
	l := s.lock(t.ID)
	l.Lock()
	defer l.Unlock()
	return s.write(t)
}

func (s *Store) write(t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	if err := os.WriteFile(s.path(t.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	return nil
}

// Load reads one task record. A missing file returns os.ErrNotExist.
func (s *Store) Load(taskID string) (*Task, error) {
	l := s.lock(taskID)
	l.Lock()
	defer l.Unlock()
	return s.read(taskID)
}

func (s *Store) read(taskID string) (*Task, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return &t, nil
}

// Update applies fn to the current record and writes the result back, all
// under the task's lock. This is the only safe way for two writers (the
// conductor loop and the management handlers) to touch the same record.
func (s *Store) Update(taskID string, fn func(*Task) error) (*Task, error) {
	l := s.lock(taskID)
	l.Lock()
	defer l.Unlock()

	t, err := s.read(taskID)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := s.write(t); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns every stored task, newest first.
func (s *Store) List() ([]*Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read task dir: %w", err)
	}
	var tasks []*Task
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, "_logs.json") {
			continue
		}
		t, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable task file %s: %v", name, err)
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Delete removes the task record. Missing records are not an error.
func (s *Store) Delete(taskID string) error {
	l := s.lock(taskID)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(s.path(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	return nil
}

// Exists reports whether a record is on disk.
func (s *Store) Exists(taskID string) bool {
	_, err := os.Stat(s.path(taskID))
	return err == nil
}
