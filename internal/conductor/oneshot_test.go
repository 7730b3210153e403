package conductor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"podium/internal/backend"
	"podium/internal/errors"
)

type routingInvoker struct {
	fn func(req backend.InvokeRequest) (*backend.InvokeResult, error)
}

func (r routingInvoker) Invoke(_ context.Context, req backend.InvokeRequest) (*backend.InvokeResult, error) {
	return r.fn(req)
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"delegate", "evaluate", "synthesize"} {
		m, err := ParseMode(valid)
		require.NoError(t, err)
		require.EqualValues(t, valid, m)
	}
	_, err := ParseMode("vote")
	require.Error(t, err)
}

func TestOneShotDelegate(t *testing.T) {
	var mu sync.Mutex
	workerPrompts := map[string]string{}
	inv := routingInvoker{fn: func(req backend.InvokeRequest) (*backend.InvokeResult, error) {
		switch {
		case strings.Contains(req.Prompt, `"subtasks"`):
			return &backend.InvokeResult{
				Output: "```json\n{\"subtasks\": [{\"id\": 1, \"task\": \"cover buffered channels\"}, {\"id\": 2, \"task\": \"cover select loops\"}]}\n```",
			}, nil
		case strings.Contains(req.Prompt, "Combine the worker answers"):
			require.Contains(t, req.Prompt, "answer from amazon.nova-pro-v1:0")
			return &backend.InvokeResult{Output: "combined answer"}, nil
		default:
			mu.Lock()
			workerPrompts[req.ModelID] = req.Prompt
			mu.Unlock()
			return &backend.InvokeResult{Output: "answer from " + req.ModelID}, nil
		}
	}}
	h := newHarness(t, &scriptPlanner{}, inv)

	result, err := h.conductor.OneShot(context.Background(), OneShotRequest{
		Mode:   ModeDelegate,
		Prompt: "explain channels",
		WorkerModels: []string{
			"amazon.nova-pro-v1:0",
			"meta.llama3-3-70b-instruct-v1:0",
		},
		ConductorID: "anthropic.claude-sonnet-4-5-20250929-v1:0",
	})
	require.NoError(t, err)
	require.Len(t, result.Phases, 3)
	require.Equal(t, "delegation", result.Phases[0].Name)
	require.Equal(t, "workers", result.Phases[1].Name)
	require.Equal(t, "synthesis", result.Phases[2].Name)
	require.Equal(t, "combined answer", result.FinalOutput)
	require.Equal(t, 4, result.Summary.TotalCalls)

	// Each worker took its own subtask, not the unsplit prompt.
	require.Contains(t, workerPrompts["amazon.nova-pro-v1:0"], "cover buffered channels")
	require.Contains(t, workerPrompts["meta.llama3-3-70b-instruct-v1:0"], "cover select loops")
	require.NotEqual(t, workerPrompts["amazon.nova-pro-v1:0"], workerPrompts["meta.llama3-3-70b-instruct-v1:0"])
	// Worker results come back in worker order regardless of completion order.
	require.Equal(t, 0, result.Phases[1].Results[0].SequenceIndex)
	require.Equal(t, 1, result.Phases[1].Results[1].SequenceIndex)
}

func TestOneShotDelegateFallsBackToFullTask(t *testing.T) {
	var mu sync.Mutex
	var workerPrompts []string
	inv := routingInvoker{fn: func(req backend.InvokeRequest) (*backend.InvokeResult, error) {
		switch {
		case strings.Contains(req.Prompt, `"subtasks"`):
			return &backend.InvokeResult{Output: "I cannot split this task."}, nil
		case strings.Contains(req.Prompt, "Combine the worker answers"):
			return &backend.InvokeResult{Output: "merged anyway"}, nil
		default:
			mu.Lock()
			workerPrompts = append(workerPrompts, req.Prompt)
			mu.Unlock()
			return &backend.InvokeResult{Output: "full answer"}, nil
		}
	}}
	h := newHarness(t, &scriptPlanner{}, inv)

	result, err := h.conductor.OneShot(context.Background(), OneShotRequest{
		Mode:         ModeDelegate,
		Prompt:       "explain channels",
		WorkerModels: []string{"amazon.nova-pro-v1:0", "deepseek.r1-v1:0"},
	})
	require.NoError(t, err)
	require.Len(t, result.Phases, 3)
	require.Equal(t, "merged anyway", result.FinalOutput)
	require.Len(t, workerPrompts, 2)
	for _, p := range workerPrompts {
		require.Contains(t, p, "explain channels")
	}
}

func TestOneShotSynthesizeRunsReducePhase(t *testing.T) {
	inv := routingInvoker{fn: func(req backend.InvokeRequest) (*backend.InvokeResult, error) {
		if strings.Contains(req.Prompt, "Synthesize the answers") {
			require.Contains(t, req.Prompt, "worker answer")
			return &backend.InvokeResult{Output: "merged answer"}, nil
		}
		return &backend.InvokeResult{Output: "worker answer"}, nil
	}}
	h := newHarness(t, &scriptPlanner{}, inv)

	result, err := h.conductor.OneShot(context.Background(), OneShotRequest{
		Mode:         ModeSynthesize,
		Prompt:       "explain goroutines",
		WorkerModels: []string{"amazon.nova-pro-v1:0", "deepseek.r1-v1:0"},
		ConductorID:  "anthropic.claude-sonnet-4-5-20250929-v1:0",
	})
	require.NoError(t, err)
	require.Len(t, result.Phases, 2)
	require.Equal(t, "synthesize", result.Phases[1].Name)
	require.Equal(t, "merged answer", result.FinalOutput)
	require.Equal(t, 3, result.Summary.TotalCalls)
}

func TestOneShotEvaluateDegradesOnJudgeFailure(t *testing.T) {
	inv := routingInvoker{fn: func(req backend.InvokeRequest) (*backend.InvokeResult, error) {
		if strings.Contains(req.Prompt, "Evaluate the answers") {
			return nil, errors.NewPermanentError(fmt.Errorf("judge unavailable"), "judge rejected")
		}
		return &backend.InvokeResult{Output: "only worker answer"}, nil
	}}
	h := newHarness(t, &scriptPlanner{}, inv)

	result, err := h.conductor.OneShot(context.Background(), OneShotRequest{
		Mode:         ModeEvaluate,
		Prompt:       "pick the best",
		WorkerModels: []string{"amazon.nova-pro-v1:0"},
	})
	require.NoError(t, err)
	require.Equal(t, "only worker answer", result.FinalOutput)
	require.Equal(t, 1, result.Summary.FailureCount)
}

func TestOneShotValidation(t *testing.T) {
	h := newHarness(t, &scriptPlanner{}, nil)
	_, err := h.conductor.OneShot(context.Background(), OneShotRequest{Mode: ModeDelegate, WorkerModels: []string{"m"}})
	require.ErrorContains(t, err, "prompt")
	_, err = h.conductor.OneShot(context.Background(), OneShotRequest{Mode: ModeDelegate, Prompt: "p"})
	require.ErrorContains(t, err, "worker model")
}

func TestGeneratePlan(t *testing.T) {
	inv := routingInvoker{fn: func(req backend.InvokeRequest) (*backend.InvokeResult, error) {
		return &backend.InvokeResult{Output: "```json\n{\"phases\": [{\"id\": \"p1\", \"name\": \"schema\", \"expected_files\": [\"schema.sql\"]}, {\"name\": \"api\", \"expected_files\": [\"server.py\"]}]}\n```"}, nil
	}}
	h := newHarness(t, &scriptPlanner{}, inv)

	plan, err := h.conductor.GeneratePlan(context.Background(), "amazon.nova-pro-v1:0", "build a service")
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)
	require.Equal(t, "p1", plan.Phases[0].ID)
	// Missing phase ids are filled in positionally.
	require.Equal(t, "p2", plan.Phases[1].ID)
}

func TestParsePlanRejectsEmpty(t *testing.T) {
	_, err := parsePlan(`{"phases": []}`)
	require.ErrorContains(t, err, "no phases")
	_, err = parsePlan("not json at all")
	require.Error(t, err)
}
