package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"podium/internal/logging"
)

// maxLogEntries caps each task's log; older entries are evicted FIFO.
const maxLogEntries = 1000

// LogStore persists per-task activity logs as JSON arrays, one file per
// task. Appends from concurrent writers are serialized by a per-task mutex
// registry; no lock is shared across tasks.
//
// A malformed log file (process killed mid-write) self-heals on the next
// read: the broken content is copied to a .corrupted sibling and the log is
// reinitialized to empty, so callers never see a read failure.
type LogStore struct {
	dir    string
	logger logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLogStore creates a log store rooted at dir, creating it if needed.
func NewLogStore(dir string, logger logging.Logger) (*LogStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	return &LogStore{
		dir:    dir,
		logger: logging.OrNop(logger),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *LogStore) lock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	return l
}

func (s *LogStore) path(taskID string) string {
	return filepath.Join(s.dir, taskID+"_logs.json")
}

// Append adds one entry, evicting the oldest entries past the cap.
func (s *LogStore) Append(taskID, entryType, message string) error {
	l := s.lock(taskID)
	l.Lock()
	defer l.Unlock()

	entries := s.readHealing(taskID)
	entries = append(entries, LogEntry{
		Type:      entryType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if len(entries) > maxLogEntries {
		entries = entries[len(entries)-maxLogEntries:]
	}
	return s.write(taskID, entries)
}

// Read returns a page of entries. Offset counts from the oldest retained
// entry; limit <= 0 means everything from offset on.
func (s *LogStore) Read(taskID string, offset, limit int) ([]LogEntry, int, error) {
	l := s.lock(taskID)
	l.Lock()
	defer l.Unlock()

	entries := s.readHealing(taskID)
	total := len(entries)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []LogEntry{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return entries[offset:end], total, nil
}

// Reset truncates a task's log to empty.
func (s *LogStore) Reset(taskID string) error {
	l := s.lock(taskID)
	l.Lock()
	defer l.Unlock()
	return s.write(taskID, []LogEntry{})
}

// Delete removes a task's log file. Missing files are not an error.
func (s *LogStore) Delete(taskID string) error {
	l := s.lock(taskID)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(s.path(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete log %s: %w", taskID, err)
	}
	return nil
}

// readHealing loads the log, recovering from malformed content by backing
// the file up and reinitializing it. Callers must hold the task lock.
func (s *LogStore) readHealing(taskID string) []LogEntry {
	path := s.path(taskID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []LogEntry{}
	}
	if err != nil {
		s.logger.Warn("log read failed for %s: %v", taskID, err)
		return []LogEntry{}
	}

	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		backup := path + ".corrupted"
		if copyErr := os.WriteFile(backup, data, 0o644); copyErr != nil {
			s.logger.Error("failed to back up corrupted log %s: %v", taskID, copyErr)
		} else {
			s.logger.Warn("corrupted log for %s backed up to %s, reinitializing", taskID, backup)
		}
		if initErr := s.write(taskID, []LogEntry{}); initErr != nil {
			s.logger.Error("failed to reinitialize log %s: %v", taskID, initErr)
		}
		return []LogEntry{}
	}
	return entries
}

func (s *LogStore) write(taskID string, entries []LogEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal log %s: %w", taskID, err)
	}
	if err := os.WriteFile(s.path(taskID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write log %s: %w", taskID, err)
	}
	return nil
}
