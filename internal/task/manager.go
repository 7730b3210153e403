package task

import (
	"fmt"
	"os"
	"time"

	"podium/internal/ids"
	"podium/internal/logging"
)

// Manager owns the task and log stores and enforces lifecycle rules. One
// instance is constructed at process start and injected everywhere a task
// needs reading or mutating.
type Manager struct {
	store  *Store
	logs   *LogStore
	logger logging.Logger
}

// NewManager creates a manager over the given stores.
func NewManager(store *Store, logs *LogStore, logger logging.Logger) *Manager {
	return &Manager{
		store:  store,
		logs:   logs,
		logger: logging.OrNop(logger),
	}
}

// Create registers a new pending task.
func (m *Manager) Create(workspace, goal string, cfg Config) (*Task, error) {
	t := &Task{
		ID:           ids.NewTaskID(),
		Workspace:    workspace,
		Goal:         goal,
		Config:       cfg,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
		FilesCreated: []string{},
		History:      []HistoryEntry{},
		Instructions: []Instruction{},
	}
	if err := m.store.Save(t); err != nil {
		return nil, err
	}
	m.Log(t.ID, "info", fmt.Sprintf("task created in workspace %s", workspace))
	return t, nil
}

// Get loads one task.
func (m *Manager) Get(taskID string) (*Task, error) {
	t, err := m.store.Load(taskID)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return t, err
}

// List returns all tasks, optionally filtered by workspace, newest first.
func (m *Manager) List(workspace string) ([]*Task, error) {
	tasks, err := m.store.List()
	if err != nil {
		return nil, err
	}
	if workspace == "" {
		return tasks, nil
	}
	filtered := tasks[:0]
	for _, t := range tasks {
		if t.Workspace == workspace {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// Update applies a read-modify-write mutation under the task's lock.
func (m *Manager) Update(taskID string, fn func(*Task) error) (*Task, error) {
	t, err := m.store.Update(taskID, fn)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return t, err
}

// Delete removes a task and its log. Running tasks must be cancelled first.
func (m *Manager) Delete(taskID string) error {
	t, err := m.Get(taskID)
	if err != nil {
		return err
	}
	if t.Status == StatusRunning {
		return fmt.Errorf("task %s is running, cancel it before deleting", taskID)
	}
	if err := m.store.Delete(taskID); err != nil {
		return err
	}
	return m.logs.Delete(taskID)
}

// Cancel requests cancellation of a running task. The status flips
// immediately; the conductor loop observes it at its next iteration boundary
// and stops without further task or log writes. Pending tasks cancel too,
// covering a loop that has not started yet.
func (m *Manager) Cancel(taskID string, purgeLogs bool) (*Task, error) {
	t, err := m.Update(taskID, func(t *Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("task %s already %s", taskID, t.Status)
		}
		now := time.Now().UTC()
		t.Status = StatusCancelled
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if purgeLogs {
		if err := m.logs.Reset(taskID); err != nil {
			return nil, err
		}
	}
	m.Log(taskID, "warning", "task cancelled by operator")
	return t, nil
}

// AddInstruction queues an operator instruction for the next iteration.
// Rejected unless the task is running.
func (m *Manager) AddInstruction(taskID, text string) (*Task, error) {
	if text == "" {
		return nil, fmt.Errorf("instruction text is required")
	}
	t, err := m.Update(taskID, func(t *Task) error {
		if t.Status != StatusRunning {
			return fmt.Errorf("task %s is %s, instructions require a running task", taskID, t.Status)
		}
		t.Instructions = append(t.Instructions, Instruction{
			Text:    text,
			AddedAt: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Log(taskID, "info", fmt.Sprintf("instruction queued: %s", text))
	return t, nil
}

// Resume creates a new pending task seeded from a finished one. The old
// record is never reactivated. Running and completed tasks are rejected.
func (m *Manager) Resume(taskID string) (*Task, error) {
	old, err := m.Get(taskID)
	if err != nil {
		return nil, err
	}
	if old.Status == StatusRunning {
		return nil, fmt.Errorf("task %s is still running", taskID)
	}
	if old.Status == StatusCompleted || old.IsComplete {
		return nil, fmt.Errorf("task %s already completed, nothing to resume", taskID)
	}

	t := &Task{
		ID:           ids.NewTaskID(),
		Workspace:    old.Workspace,
		Goal:         old.Goal,
		Config:       old.Config,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
		FilesCreated: append([]string{}, old.FilesCreated...),
		History:      append([]HistoryEntry{}, old.History...),
		Instructions: []Instruction{},
		Plan:         old.Plan,
		ResumedFrom:  old.ID,
	}
	if err := m.store.Save(t); err != nil {
		return nil, err
	}
	m.Log(old.ID, "info", fmt.Sprintf("resumed as task %s", t.ID))
	m.Log(t.ID, "info", fmt.Sprintf("resumed from task %s with %d files carried over", old.ID, len(t.FilesCreated)))
	return t, nil
}

// Log appends one entry to a task's activity trail. Log failures are
// reported to the component logger, never to the caller.
func (m *Manager) Log(taskID, entryType, message string) {
	if err := m.logs.Append(taskID, entryType, message); err != nil {
		m.logger.Error("failed to append log for %s: %v", taskID, err)
	}
}

// GetLogs returns a page of the task's log and the total retained count.
func (m *Manager) GetLogs(taskID string, offset, limit int) ([]LogEntry, int, error) {
	if !m.store.Exists(taskID) {
		return nil, 0, fmt.Errorf("task %s not found", taskID)
	}
	return m.logs.Read(taskID, offset, limit)
}

// ResetLogs truncates a task's log.
func (m *Manager) ResetLogs(taskID string) error {
	return m.logs.Reset(taskID)
}
