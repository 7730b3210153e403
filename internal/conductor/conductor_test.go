package conductor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"podium/internal/backend"
	"podium/internal/decision"
	"podium/internal/dispatch"
	"podium/internal/errors"
	"podium/internal/task"
	"podium/internal/workspace"
)

type plannerFunc func(ctx context.Context, pc PlanContext) (*decision.Decision, error)

func (f plannerFunc) Decide(ctx context.Context, pc PlanContext) (*decision.Decision, error) {
	return f(ctx, pc)
}

type scriptPlanner struct {
	mu    sync.Mutex
	calls int
	steps []func(pc PlanContext) (*decision.Decision, error)
}

func (p *scriptPlanner) Decide(_ context.Context, pc PlanContext) (*decision.Decision, error) {
	p.mu.Lock()
	step := p.calls
	p.calls++
	p.mu.Unlock()
	if step >= len(p.steps) {
		return &decision.Decision{Analysis: "done", ProgressPercent: 100, IsComplete: true}, nil
	}
	return p.steps[step](pc)
}

type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, req backend.InvokeRequest) (*backend.InvokeResult, error) {
	return &backend.InvokeResult{
		Output: "generated by " + req.ModelID,
		Usage:  backend.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

type harness struct {
	conductor  *Conductor
	tasks      *task.Manager
	workspaces *workspace.Manager
}

func newHarness(t *testing.T, planner Planner, invoker backend.Invoker) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := task.NewStore(dir+"/tasks", nil)
	require.NoError(t, err)
	logs, err := task.NewLogStore(dir+"/tasks", nil)
	require.NoError(t, err)
	tasks := task.NewManager(store, logs, nil)
	workspaces, err := workspace.NewManager(dir+"/projects", nil)
	require.NoError(t, err)
	if invoker == nil {
		invoker = echoInvoker{}
	}
	d := dispatch.NewDispatcher(invoker, errors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil)
	c := New(tasks, workspaces, planner, d, Options{
		IterationDelay:      time.Millisecond,
		MaxDecisionFailures: 3,
	}, nil)
	return &harness{conductor: c, tasks: tasks, workspaces: workspaces}
}

func (h *harness) createTask(t *testing.T, goal string) *task.Task {
	t.Helper()
	created, err := h.tasks.Create("ws", goal, task.Config{
		ModelID:       "amazon.nova-pro-v1:0",
		WorkerCount:   3,
		MaxIterations: 20,
	})
	require.NoError(t, err)
	return created
}

func TestRunCompletesTask(t *testing.T) {
	planner := &scriptPlanner{steps: []func(PlanContext) (*decision.Decision, error){
		func(PlanContext) (*decision.Decision, error) {
			return &decision.Decision{
				Analysis:        "building two files",
				ProgressPercent: 50,
				ParallelTasks: []decision.SubTask{
					{TaskID: "s1", Type: "create_file", FilePath: "app/main.py", Description: "entry point"},
					{TaskID: "s2", Type: "create_file", FilePath: "app/util.py", Description: "helpers"},
				},
			}, nil
		},
		func(PlanContext) (*decision.Decision, error) {
			return &decision.Decision{Analysis: "all done", ProgressPercent: 100, IsComplete: true, CompletionReason: "files exist"}, nil
		},
	}}
	h := newHarness(t, planner, nil)
	created := h.createTask(t, "build an app")

	var events []Event
	require.NoError(t, h.conductor.Run(context.Background(), created.ID, func(ev Event) {
		events = append(events, ev)
	}))

	final, err := h.tasks.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, final.Status)
	require.True(t, final.IsComplete)
	require.Equal(t, 100, final.Progress)
	require.Equal(t, []string{"app/main.py", "app/util.py"}, final.FilesCreated)
	require.NotNil(t, final.CompletedAt)
	require.NotEmpty(t, final.History)

	content, err := h.workspaces.ReadFile("ws", "app/main.py")
	require.NoError(t, err)
	require.Equal(t, "generated by amazon.nova-pro-v1:0", content)

	types := map[EventType]bool{}
	for _, ev := range events {
		types[ev.Type] = true
	}
	for _, want := range []EventType{EventStart, EventIterationStart, EventDecision, EventParallelStart, EventFileCreated, EventTaskComplete, EventComplete} {
		require.True(t, types[want], "missing event %s", want)
	}
}

func TestRunRejectsNonPendingTask(t *testing.T) {
	h := newHarness(t, &scriptPlanner{}, nil)
	created := h.createTask(t, "goal")
	require.NoError(t, h.conductor.Run(context.Background(), created.ID, nil))
	require.ErrorContains(t, h.conductor.Run(context.Background(), created.ID, nil), "only pending")
}

func TestCancellationObservedAtIterationTop(t *testing.T) {
	firstDecision := make(chan struct{})
	cancelDone := make(chan struct{})
	var calls int32

	planner := plannerFunc(func(_ context.Context, pc PlanContext) (*decision.Decision, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(firstDecision)
			<-cancelDone
		}
		return &decision.Decision{
			Analysis:        "keep going",
			ProgressPercent: 10,
			NextAction:      &decision.Action{Type: "note", Description: "thinking"},
		}, nil
	})
	h := newHarness(t, planner, nil)
	created := h.createTask(t, "goal")

	done := make(chan error, 1)
	go func() {
		done <- h.conductor.Run(context.Background(), created.ID, nil)
	}()

	<-firstDecision
	_, err := h.tasks.Cancel(created.ID, false)
	require.NoError(t, err)
	close(cancelDone)

	require.NoError(t, <-done)

	final, err := h.tasks.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCancelled, final.Status)

	// The in-flight iteration finished, then the loop saw the cancel and
	// made no second decision and no task mutation: the record keeps its
	// pre-cancel iteration count and history.
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Zero(t, final.Iteration)
	require.Empty(t, final.History)
}

func TestInstructionsConsumedOnceInOrder(t *testing.T) {
	ready := make(chan struct{})
	queued := make(chan struct{})
	var seen [][]string
	var mu sync.Mutex

	planner := plannerFunc(func(_ context.Context, pc PlanContext) (*decision.Decision, error) {
		mu.Lock()
		seen = append(seen, pc.Instructions)
		mu.Unlock()
		if pc.Iteration == 1 {
			close(ready)
			<-queued
			return &decision.Decision{Analysis: "waiting", NextAction: &decision.Action{Type: "note", Description: "tick"}}, nil
		}
		if pc.Iteration == 2 {
			return &decision.Decision{Analysis: "applied", NextAction: &decision.Action{Type: "note", Description: "tick"}}, nil
		}
		return &decision.Decision{Analysis: "done", IsComplete: true}, nil
	})
	h := newHarness(t, planner, nil)
	created := h.createTask(t, "goal")

	done := make(chan error, 1)
	go func() {
		done <- h.conductor.Run(context.Background(), created.ID, nil)
	}()

	<-ready
	_, err := h.tasks.AddInstruction(created.ID, "use sqlite")
	require.NoError(t, err)
	_, err = h.tasks.AddInstruction(created.ID, "add tests")
	require.NoError(t, err)
	close(queued)

	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 3)
	require.Empty(t, seen[0])
	require.Equal(t, []string{"use sqlite", "add tests"}, seen[1])
	require.Empty(t, seen[2])

	final, err := h.tasks.Get(created.ID)
	require.NoError(t, err)
	for _, ins := range final.Instructions {
		require.True(t, ins.Applied)
	}
}

func TestIterationBudgetStopsTask(t *testing.T) {
	planner := plannerFunc(func(context.Context, PlanContext) (*decision.Decision, error) {
		return &decision.Decision{Analysis: "spinning", NextAction: &decision.Action{Type: "note", Description: "tick"}}, nil
	})
	h := newHarness(t, planner, nil)
	created, err := h.tasks.Create("ws", "goal", task.Config{ModelID: "amazon.nova-pro-v1:0", MaxIterations: 3})
	require.NoError(t, err)

	require.NoError(t, h.conductor.Run(context.Background(), created.ID, nil))

	final, err := h.tasks.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusStopped, final.Status)
	require.Equal(t, 3, final.Iteration)
}

func TestConsecutiveDecisionFailuresEscalate(t *testing.T) {
	planner := plannerFunc(func(context.Context, PlanContext) (*decision.Decision, error) {
		return nil, fmt.Errorf("model produced garbage")
	})
	h := newHarness(t, planner, nil)
	created := h.createTask(t, "goal")

	require.NoError(t, h.conductor.Run(context.Background(), created.ID, nil))

	final, err := h.tasks.Get(created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusError, final.Status)
	require.Contains(t, final.Error, "3 consecutive decision failures")
}

func TestDecisionFailureIsForgivenAfterSuccess(t *testing.T) {
	planner := &scriptPlanner{steps: []func(PlanContext) (*decision.Decision, error){
		func(PlanContext) (*decision.Decision, error) { return nil, fmt.Errorf("blip") },
		func(PlanContext) (*decision.Decision, error) {
			return &decision.Decision{Analysis: "recovered", NextAction: &decision.Action{Type: "note", Description: "ok"}}, nil
		},
		func(PlanContext) (*decision.Decision, error) { return nil, fmt.Errorf("blip") },
		func(PlanContext) (*decision.Decision, error) { return nil, fmt.Errorf("blip") },
		func(PlanContext) (*decision.Decision, error) {
			return &decision.Decision{Analysis: "done", IsComplete: true}, nil
		},
	}}
	h := newHarness(t, planner, nil)
	created := h.createTask(t, "goal")

	require.NoError(t, h.conductor.Run(context.Background(), created.ID, nil))

	final, err := h.tasks.Get(created.ID)
	require.NoError(t, err)
	// Two isolated failure streaks of 1 and 2 never hit the ceiling of 3.
	require.Equal(t, task.StatusCompleted, final.Status)
}

func TestDeleteFileAction(t *testing.T) {
	planner := &scriptPlanner{steps: []func(PlanContext) (*decision.Decision, error){
		func(PlanContext) (*decision.Decision, error) {
			return &decision.Decision{
				Analysis:   "drop the scratch file",
				NextAction: &decision.Action{Type: "delete_file", FilePath: "scratch.txt", Description: "leftover"},
			}, nil
		},
	}}
	h := newHarness(t, planner, nil)
	created := h.createTask(t, "goal")
	require.NoError(t, h.workspaces.EnsureExists("ws"))
	require.NoError(t, h.workspaces.WriteFile("ws", "scratch.txt", "tmp"))
	_, err := h.tasks.Update(created.ID, func(t *task.Task) error {
		t.AddFile("scratch.txt")
		return nil
	})
	require.NoError(t, err)

	var deleted []string
	require.NoError(t, h.conductor.Run(context.Background(), created.ID, func(ev Event) {
		if ev.Type == EventFileDeleted {
			deleted = append(deleted, ev.FilePath)
		}
	}))

	require.Equal(t, []string{"scratch.txt"}, deleted)
	final, err := h.tasks.Get(created.ID)
	require.NoError(t, err)
	require.Empty(t, final.FilesCreated)
	files, err := h.workspaces.Files("ws")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestPhaseSteeringTargetsFirstIncomplete(t *testing.T) {
	var steered []string
	planner := plannerFunc(func(_ context.Context, pc PlanContext) (*decision.Decision, error) {
		if pc.CurrentPhase != nil {
			steered = append(steered, pc.CurrentPhase.Phase.ID)
		}
		return &decision.Decision{Analysis: "done", IsComplete: true}, nil
	})
	h := newHarness(t, planner, nil)
	created := h.createTask(t, "goal")

	require.NoError(t, h.workspaces.EnsureExists("ws"))
	require.NoError(t, h.workspaces.WriteFile("ws", "schema.sql", "done"))
	_, err := h.tasks.Update(created.ID, func(t *task.Task) error {
		t.Plan = &task.Plan{Phases: []task.Phase{
			{ID: "p1", Name: "schema", ExpectedFiles: []string{"schema.sql"}},
			{ID: "p2", Name: "api", ExpectedFiles: []string{"server.py"}},
		}}
		return nil
	})
	require.NoError(t, err)

	var events []Event
	emit := func(ev Event) { events = append(events, ev) }
	require.NoError(t, h.conductor.Run(context.Background(), created.ID, emit))
	require.Equal(t, []string{"p2"}, steered)

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Contains(t, types, EventPlanLoaded)
}
