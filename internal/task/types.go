// Package task holds the durable orchestration state: the Task record, its
// append-only log, and the file-backed stores that persist both.
package task

import "time"

// Status is the lifecycle state of a task. Terminal states never
// auto-transition; continuing finished work means creating a new task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Config is the execution configuration snapshot a task carries.
type Config struct {
	ModelID       string  `json:"model_id"`
	WorkerCount   int     `json:"worker_count"`
	MaxParallel   int     `json:"max_parallel"`
	MaxIterations int     `json:"max_iterations"`
	MaxOutput     int     `json:"max_output"`
	Temperature   float64 `json:"temperature"`
}

// Instruction is an operator note injected into a running task. Applied
// flips false to true exactly once, at the top of the iteration that
// consumes it.
type Instruction struct {
	Text    string    `json:"text"`
	Applied bool      `json:"applied"`
	AddedAt time.Time `json:"added_at"`
}

// HistoryEntry records one past action; entries are ordered by Iteration.
type HistoryEntry struct {
	Iteration int       `json:"iteration"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is one line of a task's activity trail.
type LogEntry struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Phase is one stage of an approved plan. Completion is derived from the
// workspace, never stored.
type Phase struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ExpectedFiles []string `json:"expected_files"`
}

// Plan is an ordered list of phases a task works through.
type Plan struct {
	Phases []Phase `json:"phases"`
}

// Task is the durable, resumable unit of autonomous orchestration state.
// The record is replaced wholesale on every update, never patched in place.
type Task struct {
	ID           string         `json:"id"`
	Workspace    string         `json:"workspace"`
	Goal         string         `json:"goal"`
	Config       Config         `json:"config"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Iteration    int            `json:"iteration"`
	Progress     int            `json:"progress"`
	Analysis     string         `json:"analysis,omitempty"`
	CurrentPhase string         `json:"current_phase,omitempty"`
	IsComplete   bool           `json:"is_complete"`
	Error        string         `json:"error,omitempty"`
	FilesCreated []string       `json:"files_created"`
	History      []HistoryEntry `json:"history"`
	Instructions []Instruction  `json:"additional_instructions"`
	Plan         *Plan          `json:"plan,omitempty"`
	ResumedFrom  string         `json:"resumed_from,omitempty"`
}

// AddFile appends a path to FilesCreated, keeping order and dropping
// duplicates.
func (t *Task) AddFile(path string) {
	for _, existing := range t.FilesCreated {
		if existing == path {
			return
		}
	}
	t.FilesCreated = append(t.FilesCreated, path)
}

// RemoveFile drops a path from FilesCreated.
func (t *Task) RemoveFile(path string) {
	for i, existing := range t.FilesCreated {
		if existing == path {
			t.FilesCreated = append(t.FilesCreated[:i], t.FilesCreated[i+1:]...)
			return
		}
	}
}

// PendingInstructions returns the not-yet-applied instructions in
// submission order.
func (t *Task) PendingInstructions() []Instruction {
	var pending []Instruction
	for _, ins := range t.Instructions {
		if !ins.Applied {
			pending = append(pending, ins)
		}
	}
	return pending
}

// MarkInstructionsApplied flips every pending instruction to applied.
func (t *Task) MarkInstructionsApplied() int {
	applied := 0
	for i := range t.Instructions {
		if !t.Instructions[i].Applied {
			t.Instructions[i].Applied = true
			applied++
		}
	}
	return applied
}
