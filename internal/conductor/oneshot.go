package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"podium/internal/dispatch"
)

// Mode selects how a one-shot orchestration combines its worker models.
type Mode string

const (
	// ModeDelegate has the conductor model split the task into one subtask
	// per worker, each worker completes its own subtask, and the conductor
	// merges the answers.
	ModeDelegate Mode = "delegate"
	// ModeEvaluate fans out, then has the conductor model judge the
	// answers and pick the strongest.
	ModeEvaluate Mode = "evaluate"
	// ModeSynthesize fans out, then has the conductor model merge the
	// answers into a single response.
	ModeSynthesize Mode = "synthesize"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDelegate, ModeEvaluate, ModeSynthesize:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// OneShotRequest is a single orchestration without durable task state.
type OneShotRequest struct {
	Mode         Mode     `json:"mode"`
	Prompt       string   `json:"prompt"`
	WorkerModels []string `json:"worker_models"`
	ConductorID  string   `json:"conductor_model"`
	MaxOutput    int      `json:"max_output"`
	Temperature  float64  `json:"temperature"`
	Workers      int      `json:"workers"`
}

// PhaseResult is one stage of a one-shot orchestration.
type PhaseResult struct {
	Name    string                `json:"name"`
	Results []dispatch.CallResult `json:"results"`
}

// OneShotResult is the full outcome of a one-shot orchestration.
type OneShotResult struct {
	Mode        Mode             `json:"mode"`
	Phases      []PhaseResult    `json:"phases"`
	FinalOutput string           `json:"final_output,omitempty"`
	Summary     dispatch.Summary `json:"summary"`
}

// OneShot runs a single orchestration across the worker models. Delegate
// splits the task across the workers and merges their answers; evaluate and
// synthesize fan the full task out and add a reduce phase driven by the
// conductor model. Conductor-call failures degrade to the raw worker
// answers rather than failing the call.
func (c *Conductor) OneShot(ctx context.Context, req OneShotRequest) (*OneShotResult, error) {
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if len(req.WorkerModels) == 0 {
		return nil, fmt.Errorf("at least one worker model is required")
	}
	workers := req.Workers
	if workers <= 0 {
		workers = len(req.WorkerModels)
	}

	start := time.Now()
	result := &OneShotResult{Mode: req.Mode}

	switch req.Mode {
	case ModeDelegate:
		c.delegatePhases(ctx, req, workers, result)
	default:
		requests := make([]dispatch.CallRequest, len(req.WorkerModels))
		for i, model := range req.WorkerModels {
			requests[i] = dispatch.CallRequest{
				BackendID:     model,
				Payload:       req.Prompt,
				MaxOutput:     req.MaxOutput,
				Temperature:   req.Temperature,
				SequenceIndex: i,
			}
		}
		fanout := c.dispatcher.Run(ctx, requests, workers)
		result.Phases = []PhaseResult{{Name: "fanout", Results: fanout}}

		final, phase := c.reducePhase(ctx, req, fanout)
		if phase != nil {
			result.Phases = append(result.Phases, *phase)
		}
		result.FinalOutput = final
	}

	var all []dispatch.CallResult
	for _, p := range result.Phases {
		all = append(all, p.Results...)
	}
	result.Summary = dispatch.Summarize(all, time.Since(start))
	return result, nil
}

// delegatePhases runs the three delegate stages: the conductor model splits
// the task into per-worker subtasks, each worker completes its own subtask,
// and the conductor merges the answers into the final output. A failed or
// unparseable split falls back to handing every worker the full task.
func (c *Conductor) delegatePhases(ctx context.Context, req OneShotRequest, workers int, result *OneShotResult) {
	conductorID := req.conductorOrFirst()

	split := c.dispatcher.Run(ctx, []dispatch.CallRequest{{
		BackendID: conductorID,
		Payload:   buildSplitPrompt(req.Prompt, len(req.WorkerModels)),
		MaxOutput: req.MaxOutput,
	}}, 1)
	result.Phases = append(result.Phases, PhaseResult{Name: "delegation", Results: split})

	var subtasks []string
	if !split[0].Success {
		c.logger.Warn("delegation call failed (%s), workers get the full task", split[0].ErrorKind)
	} else if parsed, err := parseSubtasks(split[0].Output); err != nil {
		c.logger.Warn("subtask split unparseable, workers get the full task: %v", err)
	} else {
		subtasks = parsed
	}

	requests := make([]dispatch.CallRequest, len(req.WorkerModels))
	for i, model := range req.WorkerModels {
		taskText := req.Prompt
		if len(subtasks) > 0 {
			taskText = subtasks[i%len(subtasks)]
		}
		requests[i] = dispatch.CallRequest{
			BackendID:     model,
			Payload:       fmt.Sprintf("Complete this task:\n\n%s\n\nBe thorough and specific.", taskText),
			MaxOutput:     req.MaxOutput,
			Temperature:   req.Temperature,
			SequenceIndex: i,
		}
	}
	workerResults := c.dispatcher.Run(ctx, requests, workers)
	result.Phases = append(result.Phases, PhaseResult{Name: "workers", Results: workerResults})

	merge := c.dispatcher.Run(ctx, []dispatch.CallRequest{{
		BackendID: conductorID,
		Payload:   buildMergePrompt(req.Prompt, subtasks, workerResults),
		MaxOutput: req.MaxOutput,
	}}, 1)
	result.Phases = append(result.Phases, PhaseResult{Name: "synthesis", Results: merge})
	if merge[0].Success {
		result.FinalOutput = merge[0].Output
		return
	}
	c.logger.Warn("synthesis failed (%s), returning raw worker output", merge[0].ErrorKind)
	result.FinalOutput = bestOutput(workerResults)
}

func (r OneShotRequest) conductorOrFirst() string {
	if r.ConductorID != "" {
		return r.ConductorID
	}
	return r.WorkerModels[0]
}

// reducePhase runs the second-stage conductor call for evaluate/synthesize.
func (c *Conductor) reducePhase(ctx context.Context, req OneShotRequest, fanout []dispatch.CallResult) (string, *PhaseResult) {
	conductorID := req.conductorOrFirst()

	prompt := buildReducePrompt(req.Mode, req.Prompt, fanout)
	results := c.dispatcher.Run(ctx, []dispatch.CallRequest{{
		BackendID: conductorID,
		Payload:   prompt,
		MaxOutput: req.MaxOutput,
	}}, 1)

	phase := &PhaseResult{Name: string(req.Mode), Results: results}
	if !results[0].Success {
		c.logger.Warn("%s phase failed (%s), returning raw worker output", req.Mode, results[0].ErrorKind)
		return bestOutput(fanout), phase
	}
	return results[0].Output, phase
}

func buildReducePrompt(mode Mode, original string, fanout []dispatch.CallResult) string {
	var sb strings.Builder
	sb.WriteString("Original request:\n" + original + "\n\n")
	for _, r := range fanout {
		if !r.Success {
			continue
		}
		sb.WriteString(fmt.Sprintf("--- Answer from %s ---\n%s\n\n", r.BackendID, r.Output))
	}
	if mode == ModeEvaluate {
		sb.WriteString("Evaluate the answers above. Name the strongest one, explain briefly why, and reproduce it in full.")
	} else {
		sb.WriteString("Synthesize the answers above into one response that combines their strengths.")
	}
	return sb.String()
}

func buildSplitPrompt(task string, n int) string {
	return fmt.Sprintf(`You are conducting %d worker models. Split the task below into %d subtasks, one per worker, so their combined answers cover the whole task.

Task:
%s

Respond with a single JSON object:
{"subtasks": [{"id": 1, "task": "what worker 1 should do", "focus": "its angle"}]}
Respond with JSON only.`, n, n, task)
}

type subTaskSplit struct {
	Subtasks []struct {
		ID    int    `json:"id"`
		Task  string `json:"task"`
		Focus string `json:"focus"`
	} `json:"subtasks"`
}

func parseSubtasks(raw string) ([]string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in split output")
	}
	candidate := raw[start : end+1]

	var split subTaskSplit
	if err := json.Unmarshal([]byte(candidate), &split); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, fmt.Errorf("split JSON unparseable: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &split); err != nil {
			return nil, fmt.Errorf("split JSON unparseable after repair: %w", err)
		}
	}
	tasks := make([]string, 0, len(split.Subtasks))
	for _, st := range split.Subtasks {
		if strings.TrimSpace(st.Task) != "" {
			tasks = append(tasks, st.Task)
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("split has no subtasks")
	}
	return tasks, nil
}

func buildMergePrompt(original string, subtasks []string, workerResults []dispatch.CallResult) string {
	var sb strings.Builder
	sb.WriteString("Original task:\n" + original + "\n\n")
	for i, r := range workerResults {
		if !r.Success {
			continue
		}
		if len(subtasks) > 0 {
			sb.WriteString(fmt.Sprintf("--- Worker %d (%s), subtask: %s ---\n%s\n\n", i+1, r.BackendID, subtasks[i%len(subtasks)], r.Output))
		} else {
			sb.WriteString(fmt.Sprintf("--- Worker %d (%s) ---\n%s\n\n", i+1, r.BackendID, r.Output))
		}
	}
	sb.WriteString("Combine the worker answers into one comprehensive response to the original task, keeping each worker's strengths and resolving contradictions.")
	return sb.String()
}

func bestOutput(results []dispatch.CallResult) string {
	for _, r := range results {
		if r.Success {
			return r.Output
		}
	}
	return ""
}
