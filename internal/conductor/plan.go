package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"podium/internal/dispatch"
	"podium/internal/task"
)

// GeneratePlan asks a model to break a goal into ordered phases with
// expected output files. The returned plan can be attached to a task at
// creation so phase completion steers every later iteration.
func (c *Conductor) GeneratePlan(ctx context.Context, modelID, goal string) (*task.Plan, error) {
	if goal == "" {
		return nil, fmt.Errorf("goal is required")
	}
	prompt := fmt.Sprintf(`Break this project goal into 2-6 ordered phases:

%s

Respond with a single JSON object:
{"phases": [{"id": "p1", "name": "short name", "expected_files": ["relative/path.ext"]}]}
Each phase lists every file it is expected to produce. Respond with JSON only.`, goal)

	results := c.dispatcher.Run(ctx, []dispatch.CallRequest{{
		BackendID: modelID,
		Payload:   prompt,
		MaxOutput: 2048,
	}}, 1)
	if !results[0].Success {
		return nil, fmt.Errorf("plan generation failed (%s): %s", results[0].ErrorKind, results[0].Error)
	}

	plan, err := parsePlan(results[0].Output)
	if err != nil {
		return nil, err
	}
	c.logger.Info("generated plan with %d phases for goal %q", len(plan.Phases), goal)
	return plan, nil
}

func parsePlan(raw string) (*task.Plan, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in plan output")
	}
	candidate := raw[start : end+1]

	var plan task.Plan
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, fmt.Errorf("plan JSON unparseable: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
			return nil, fmt.Errorf("plan JSON unparseable after repair: %w", err)
		}
	}
	if len(plan.Phases) == 0 {
		return nil, fmt.Errorf("plan has no phases")
	}
	for i := range plan.Phases {
		if plan.Phases[i].ID == "" {
			plan.Phases[i].ID = fmt.Sprintf("p%d", i+1)
		}
	}
	return &plan, nil
}
