package conductor

import (
	"context"
	"fmt"
	"strings"

	"podium/internal/backend"
	"podium/internal/decision"
	"podium/internal/task"
	"podium/internal/workspace"
)

// PlanContext is everything the decision engine sees for one iteration.
type PlanContext struct {
	Goal         string
	Iteration    int
	Snapshot     *workspace.Snapshot
	Instructions []string
	History      []task.HistoryEntry
	Phases       []workspace.PhaseStatus
	CurrentPhase *workspace.PhaseStatus
	FilesCreated []string
}

// Planner is the decision engine: given the composed iteration context it
// returns the next structured decision. Output is untrusted model text, so
// implementations must parse defensively.
type Planner interface {
	Decide(ctx context.Context, pc PlanContext) (*decision.Decision, error)
}

// ModelPlanner asks a backend model for the next decision.
type ModelPlanner struct {
	invoker     backend.Invoker
	modelID     string
	maxOutput   int
	temperature float64
}

// NewModelPlanner creates a planner backed by the given model.
func NewModelPlanner(invoker backend.Invoker, modelID string, maxOutput int, temperature float64) *ModelPlanner {
	if maxOutput <= 0 {
		maxOutput = 4096
	}
	return &ModelPlanner{
		invoker:     invoker,
		modelID:     modelID,
		maxOutput:   maxOutput,
		temperature: temperature,
	}
}

func (p *ModelPlanner) Decide(ctx context.Context, pc PlanContext) (*decision.Decision, error) {
	result, err := p.invoker.Invoke(ctx, backend.InvokeRequest{
		ModelID:     p.modelID,
		Prompt:      buildDecisionPrompt(pc),
		MaxOutput:   p.maxOutput,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("decision call failed: %w", err)
	}
	d, err := decision.Parse(result.Output)
	if err != nil {
		return nil, fmt.Errorf("decision parse failed: %w", err)
	}
	return d, nil
}

func buildDecisionPrompt(pc PlanContext) string {
	var sb strings.Builder
	sb.WriteString("You are an autonomous project conductor working toward this goal:\n")
	sb.WriteString(pc.Goal)
	sb.WriteString(fmt.Sprintf("\n\nIteration: %d\n", pc.Iteration))

	if len(pc.Instructions) > 0 {
		sb.WriteString("\nNew operator instructions (apply them now):\n")
		for _, ins := range pc.Instructions {
			sb.WriteString("- " + ins + "\n")
		}
	}

	if pc.CurrentPhase != nil {
		sb.WriteString(fmt.Sprintf("\nCurrent phase: %s (%s). Missing files: %s\n",
			pc.CurrentPhase.Phase.Name, pc.CurrentPhase.Phase.ID,
			strings.Join(pc.CurrentPhase.MissingFiles, ", ")))
		sb.WriteString("Work only on this phase; earlier phases are already complete.\n")
	}
	for _, ps := range pc.Phases {
		state := "incomplete"
		if ps.Complete {
			state = "complete"
		}
		sb.WriteString(fmt.Sprintf("Phase %s (%s): %s\n", ps.Phase.ID, ps.Phase.Name, state))
	}

	if pc.Snapshot != nil && len(pc.Snapshot.Files) > 0 {
		sb.WriteString("\nWorkspace files:\n")
		for _, f := range pc.Snapshot.Files {
			sb.WriteString(fmt.Sprintf("- %s (%d bytes)\n", f.Path, f.Size))
			if f.Content != "" {
				sb.WriteString(f.Content)
				if f.Truncated {
					sb.WriteString("\n[truncated]")
				}
				sb.WriteString("\n")
			}
		}
	} else {
		sb.WriteString("\nThe workspace is empty.\n")
	}

	if n := len(pc.History); n > 0 {
		sb.WriteString("\nRecent actions:\n")
		start := 0
		if n > 10 {
			start = n - 10
		}
		for _, h := range pc.History[start:] {
			sb.WriteString(fmt.Sprintf("- iteration %d: %s\n", h.Iteration, h.Action))
		}
	}

	sb.WriteString(`
Respond with a single JSON object:
{
  "analysis": "your assessment of the current state",
  "progress_percent": 0-100,
  "is_complete": false,
  "current_phase_id": "optional phase id",
  "parallel_tasks": [{"task_id": "t1", "type": "create_file", "file_path": "path", "description": "what to build", "dependencies": []}],
  "next_action": {"type": "create_file|delete_file|note", "file_path": "path", "description": "what to do"},
  "completion_reason": "set only when is_complete is true"
}
Use parallel_tasks for independent files, next_action for a single step, neither when complete.`)
	return sb.String()
}
