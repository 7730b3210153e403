package conductor

import (
	"time"
)

// EventType identifies one frame of a task's progress stream.
type EventType string

const (
	EventStart          EventType = "start"
	EventPlanLoaded     EventType = "plan_loaded"
	EventIterationStart EventType = "iteration_start"
	EventDecision       EventType = "decision"
	EventParallelStart  EventType = "parallel_start"
	EventFileCreated    EventType = "file_created"
	EventFileDeleted    EventType = "file_deleted"
	EventTaskComplete   EventType = "task_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// Event is one frame of a running task's progress stream.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Iteration int       `json:"iteration,omitempty"`
	Message   string    `json:"message,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	Progress  int       `json:"progress,omitempty"`
	Parallel  int       `json:"parallel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter receives progress frames. A nil Emitter is valid and drops them.
type Emitter func(Event)

func (e Emitter) emit(ev Event) {
	if e == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	e(ev)
}
