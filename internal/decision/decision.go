// Package decision defines the structured output of the planning model and
// the defensive parsing that turns untrusted model text into it.
package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// SubTask is one parallelizable unit of work from a decision.
type SubTask struct {
	TaskID       string   `json:"task_id"`
	Type         string   `json:"type"`
	FilePath     string   `json:"file_path"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Action is a single synchronous next step.
type Action struct {
	Type        string `json:"type"`
	FilePath    string `json:"file_path,omitempty"`
	Description string `json:"description"`
}

// Decision is one iteration's plan from the decision engine.
type Decision struct {
	Analysis         string    `json:"analysis"`
	ProgressPercent  int       `json:"progress_percent"`
	IsComplete       bool      `json:"is_complete"`
	CurrentPhaseID   string    `json:"current_phase_id,omitempty"`
	ParallelTasks    []SubTask `json:"parallel_tasks,omitempty"`
	NextAction       *Action   `json:"next_action,omitempty"`
	CompletionReason string    `json:"completion_reason,omitempty"`
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Parse extracts a Decision from raw model output. The payload may arrive
// bare, inside a ```json fence, or with trailing prose; mildly malformed
// JSON is repaired before giving up.
func Parse(raw string) (*Decision, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in decision output")
	}

	var d Decision
	if err := json.Unmarshal([]byte(candidate), &d); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, fmt.Errorf("decision JSON unparseable: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &d); err != nil {
			return nil, fmt.Errorf("decision JSON unparseable after repair: %w", err)
		}
	}

	if err := validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// extractJSON pulls the JSON object out of raw text, preferring a fenced
// block, then falling back to the outermost brace pair.
func extractJSON(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func validate(d *Decision) error {
	if d.ProgressPercent < 0 {
		d.ProgressPercent = 0
	}
	if d.ProgressPercent > 100 {
		d.ProgressPercent = 100
	}
	for i, st := range d.ParallelTasks {
		if st.FilePath == "" {
			return fmt.Errorf("parallel task %d is missing file_path", i)
		}
		if st.Description == "" {
			return fmt.Errorf("parallel task %d is missing description", i)
		}
	}
	if d.NextAction != nil && d.NextAction.Type == "" {
		return fmt.Errorf("next_action is missing type")
	}
	return nil
}
