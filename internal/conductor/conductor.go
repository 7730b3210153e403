package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"podium/internal/async"
	"podium/internal/decision"
	"podium/internal/dispatch"
	"podium/internal/logging"
	"podium/internal/task"
	"podium/internal/workspace"
)

// Options tune the conductor loop. Zero values take the defaults below.
type Options struct {
	// IterationDelay is the pause between iterations.
	IterationDelay time.Duration
	// MaxDecisionFailures bounds consecutive decision-engine failures
	// (invoke errors and unparseable output alike) before the task
	// escalates to the error state.
	MaxDecisionFailures int
	// MaxParallelWorkers caps one iteration's dispatch pool regardless of
	// the task's own worker count.
	MaxParallelWorkers int
	// WorkerModels are assigned round-robin to parallel sub-tasks. When
	// empty, the task's own model handles everything.
	WorkerModels []string
}

func (o Options) withDefaults() Options {
	if o.IterationDelay <= 0 {
		o.IterationDelay = 2 * time.Second
	}
	if o.MaxDecisionFailures <= 0 {
		o.MaxDecisionFailures = 5
	}
	if o.MaxParallelWorkers <= 0 {
		o.MaxParallelWorkers = 5
	}
	return o
}

// Conductor drives autonomous tasks: one sequential decision loop per task,
// fanning independent sub-tasks out through the dispatcher.
type Conductor struct {
	tasks      *task.Manager
	workspaces *workspace.Manager
	planner    Planner
	dispatcher *dispatch.Dispatcher
	opts       Options
	logger     logging.Logger
	metrics    *Metrics
}

// New creates a conductor.
func New(tasks *task.Manager, workspaces *workspace.Manager, planner Planner, dispatcher *dispatch.Dispatcher, opts Options, logger logging.Logger) *Conductor {
	return &Conductor{
		tasks:      tasks,
		workspaces: workspaces,
		planner:    planner,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		logger:     logging.OrNop(logger),
		metrics:    DefaultMetrics(),
	}
}

// StartBackground detaches the loop from the caller: the task keeps running
// after the creating request ends, with its own error boundary.
func (c *Conductor) StartBackground(taskID string) {
	async.Go(c.logger, "conductor-"+taskID, func() {
		if err := c.Run(context.Background(), taskID, nil); err != nil {
			c.logger.Error("background task %s ended with error: %v", taskID, err)
		}
	})
}

// Run drives one task to a terminal state, emitting progress frames along
// the way. Returns an error only for failures outside the task's own state
// machine (unknown task, storage trouble); ordinary task failure lands in
// the error status, not here.
func (c *Conductor) Run(ctx context.Context, taskID string, emit Emitter) error {
	t, err := c.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusPending {
		return fmt.Errorf("task %s is %s, only pending tasks can start", taskID, t.Status)
	}
	if err := c.workspaces.EnsureExists(t.Workspace); err != nil {
		return err
	}

	if _, err := c.tasks.Update(taskID, func(t *task.Task) error {
		now := time.Now().UTC()
		t.Status = task.StatusRunning
		t.StartedAt = &now
		return nil
	}); err != nil {
		return err
	}
	c.tasks.Log(taskID, "info", "task started")
	c.metrics.taskStarted()
	defer c.metrics.taskEnded()

	emit.emit(Event{Type: EventStart, TaskID: taskID, Message: t.Goal})
	if t.Plan != nil && len(t.Plan.Phases) > 0 {
		emit.emit(Event{Type: EventPlanLoaded, TaskID: taskID,
			Message: fmt.Sprintf("plan with %d phases", len(t.Plan.Phases))})
	}

	finalStatus, runErr := c.loop(ctx, t, emit)
	if runErr != nil {
		// Loop-internal transitions already went through finish; this covers
		// storage and workspace failures that escaped the state machine.
		finalStatus, _ = c.finish(taskID, task.StatusError, runErr.Error())
	}
	c.metrics.taskFinished(string(finalStatus))
	emit.emit(Event{Type: EventComplete, TaskID: taskID, Message: string(finalStatus)})
	return runErr
}

// loop is the per-iteration state machine. Cancellation is observed only at
// the top of an iteration, keeping each iteration's side effects atomic with
// respect to the task record.
func (c *Conductor) loop(ctx context.Context, t *task.Task, emit Emitter) (task.Status, error) {
	taskID := t.ID
	cfg := t.Config
	decisionFailures := 0

	for iteration := 1; ; iteration++ {
		// 1. Cancellation check. A cancelled task gets no further task or
		// log writes from this loop.
		current, err := c.tasks.Get(taskID)
		if err != nil {
			return task.StatusError, err
		}
		if current.Status == task.StatusCancelled {
			c.logger.Info("task %s cancelled, stopping loop", taskID)
			return task.StatusCancelled, nil
		}
		if ctx.Err() != nil {
			return c.finish(taskID, task.StatusCancelled, "context cancelled")
		}
		if cfg.MaxIterations > 0 && iteration > cfg.MaxIterations {
			c.tasks.Log(taskID, "warning", fmt.Sprintf("iteration budget of %d exhausted", cfg.MaxIterations))
			return c.finish(taskID, task.StatusStopped, "")
		}

		emit.emit(Event{Type: EventIterationStart, TaskID: taskID, Iteration: iteration})

		// 2. Snapshot the workspace and consume pending instructions. Each
		// instruction is marked applied exactly once, before the decision
		// call, so a failed iteration never re-applies it.
		snap, err := c.workspaces.Take(current.Workspace)
		if err != nil {
			return task.StatusError, err
		}
		var instructions []string
		current, err = c.tasks.Update(taskID, func(t *task.Task) error {
			for _, ins := range t.PendingInstructions() {
				instructions = append(instructions, ins.Text)
			}
			t.MarkInstructionsApplied()
			return nil
		})
		if err != nil {
			return task.StatusError, err
		}
		if len(instructions) > 0 {
			c.tasks.Log(taskID, "info", fmt.Sprintf("applying %d operator instruction(s)", len(instructions)))
		}

		// 3. Derive phase completion; the first incomplete phase steers the
		// planner away from finished work.
		phases := workspace.EvaluatePlan(current.Plan, snap)
		firstIncomplete := workspace.FirstIncomplete(phases)

		// 4. One decision per iteration. Failures are fail-soft up to the
		// consecutive-failure ceiling.
		d, err := c.planner.Decide(ctx, PlanContext{
			Goal:         current.Goal,
			Iteration:    iteration,
			Snapshot:     snap,
			Instructions: instructions,
			History:      current.History,
			Phases:       phases,
			CurrentPhase: firstIncomplete,
			FilesCreated: current.FilesCreated,
		})
		if err != nil {
			decisionFailures++
			c.metrics.decisionFailed()
			c.tasks.Log(taskID, "error", fmt.Sprintf("decision failed (%d/%d consecutive): %v", decisionFailures, c.opts.MaxDecisionFailures, err))
			if decisionFailures >= c.opts.MaxDecisionFailures {
				emit.emit(Event{Type: EventError, TaskID: taskID, Iteration: iteration, Message: err.Error()})
				return c.finish(taskID, task.StatusError, fmt.Sprintf("%d consecutive decision failures: %v", decisionFailures, err))
			}
			cancelled, perr := c.persistIteration(taskID, iteration, nil, "")
			if perr != nil {
				return c.finish(taskID, task.StatusError, perr.Error())
			}
			if cancelled {
				return task.StatusCancelled, nil
			}
			c.sleep(ctx)
			continue
		}
		decisionFailures = 0
		emit.emit(Event{Type: EventDecision, TaskID: taskID, Iteration: iteration, Message: d.Analysis, Progress: d.ProgressPercent})

		// 5. Completion wins before any further work.
		if d.IsComplete {
			c.tasks.Log(taskID, "success", "decision engine reported completion: "+d.CompletionReason)
			if _, err := c.tasks.Update(taskID, func(t *task.Task) error {
				t.IsComplete = true
				t.Progress = 100
				t.Analysis = d.Analysis
				t.Iteration = iteration
				return nil
			}); err != nil {
				return task.StatusError, err
			}
			emit.emit(Event{Type: EventTaskComplete, TaskID: taskID, Iteration: iteration, Message: d.CompletionReason})
			return c.finish(taskID, task.StatusCompleted, "")
		}

		// 6. Parallel fan-out, or a single synchronous action.
		var action string
		switch {
		case len(d.ParallelTasks) > 0:
			action, err = c.runParallel(ctx, taskID, current.Workspace, cfg, d, emit)
		case d.NextAction != nil:
			action, err = c.runAction(ctx, taskID, current.Workspace, cfg, d.NextAction, emit)
		default:
			action = "no actionable step produced"
			c.tasks.Log(taskID, "warning", action)
		}
		if err != nil {
			return task.StatusError, err
		}

		// 7. Persist the iteration's outcome wholesale.
		cancelled, perr := c.persistIteration(taskID, iteration, d, action)
		if perr != nil {
			return c.finish(taskID, task.StatusError, perr.Error())
		}
		if cancelled {
			return task.StatusCancelled, nil
		}

		// 8. Breathe before the next decision.
		c.sleep(ctx)
	}
}

// runParallel fans the decision's sub-tasks out through the dispatcher and
// materializes each successful result as a workspace file.
func (c *Conductor) runParallel(ctx context.Context, taskID, ws string, cfg task.Config, d *decision.Decision, emit Emitter) (string, error) {
	subtasks := d.ParallelTasks
	workers := len(subtasks)
	if cfg.WorkerCount > 0 && cfg.WorkerCount < workers {
		workers = cfg.WorkerCount
	}
	if c.opts.MaxParallelWorkers < workers {
		workers = c.opts.MaxParallelWorkers
	}

	models := c.opts.WorkerModels
	if len(models) == 0 {
		models = []string{cfg.ModelID}
	}

	requests := make([]dispatch.CallRequest, len(subtasks))
	for i, st := range subtasks {
		requests[i] = dispatch.CallRequest{
			BackendID:     models[i%len(models)],
			Payload:       buildSubTaskPrompt(d.Analysis, st),
			MaxOutput:     cfg.MaxOutput,
			Temperature:   cfg.Temperature,
			SequenceIndex: i,
		}
	}

	emit.emit(Event{Type: EventParallelStart, TaskID: taskID, Parallel: len(requests)})
	c.tasks.Log(taskID, "info", fmt.Sprintf("dispatching %d sub-tasks across %d workers", len(requests), workers))

	results := c.dispatcher.Run(ctx, requests, workers)

	succeeded := 0
	for _, r := range results {
		st := subtasks[r.SequenceIndex]
		if !r.Success {
			c.tasks.Log(taskID, "error", fmt.Sprintf("sub-task %s failed (%s): %s", st.TaskID, r.ErrorKind, r.Error))
			continue
		}
		if err := c.workspaces.WriteFile(ws, st.FilePath, r.Output); err != nil {
			c.tasks.Log(taskID, "error", fmt.Sprintf("failed to materialize %s: %v", st.FilePath, err))
			continue
		}
		succeeded++
		if _, err := c.tasks.Update(taskID, func(t *task.Task) error {
			t.AddFile(st.FilePath)
			return nil
		}); err != nil {
			return "", err
		}
		emit.emit(Event{Type: EventFileCreated, TaskID: taskID, FilePath: st.FilePath})
		c.tasks.Log(taskID, "success", "created "+st.FilePath)
	}
	return fmt.Sprintf("dispatched %d sub-tasks, %d succeeded", len(results), succeeded), nil
}

// runAction executes a single synchronous next step.
func (c *Conductor) runAction(ctx context.Context, taskID, ws string, cfg task.Config, a *decision.Action, emit Emitter) (string, error) {
	switch a.Type {
	case "create_file", "update_file":
		if a.FilePath == "" {
			c.tasks.Log(taskID, "warning", "action without file_path skipped")
			return "skipped file action without path", nil
		}
		results := c.dispatcher.Run(ctx, []dispatch.CallRequest{{
			BackendID:   cfg.ModelID,
			Payload:     buildActionPrompt(a),
			MaxOutput:   cfg.MaxOutput,
			Temperature: cfg.Temperature,
		}}, 1)
		r := results[0]
		if !r.Success {
			c.tasks.Log(taskID, "error", fmt.Sprintf("action on %s failed (%s): %s", a.FilePath, r.ErrorKind, r.Error))
			return "action failed: " + a.FilePath, nil
		}
		if err := c.workspaces.WriteFile(ws, a.FilePath, r.Output); err != nil {
			return "", err
		}
		if _, err := c.tasks.Update(taskID, func(t *task.Task) error {
			t.AddFile(a.FilePath)
			return nil
		}); err != nil {
			return "", err
		}
		emit.emit(Event{Type: EventFileCreated, TaskID: taskID, FilePath: a.FilePath})
		c.tasks.Log(taskID, "success", "created "+a.FilePath)
		return "created " + a.FilePath, nil

	case "delete_file":
		if err := c.workspaces.RemoveFile(ws, a.FilePath); err != nil {
			c.tasks.Log(taskID, "error", fmt.Sprintf("failed to delete %s: %v", a.FilePath, err))
			return "delete failed: " + a.FilePath, nil
		}
		if _, err := c.tasks.Update(taskID, func(t *task.Task) error {
			t.RemoveFile(a.FilePath)
			return nil
		}); err != nil {
			return "", err
		}
		emit.emit(Event{Type: EventFileDeleted, TaskID: taskID, FilePath: a.FilePath})
		c.tasks.Log(taskID, "info", "deleted "+a.FilePath)
		return "deleted " + a.FilePath, nil

	default:
		c.tasks.Log(taskID, "info", fmt.Sprintf("note: %s", a.Description))
		return "noted: " + a.Description, nil
	}
}

// persistIteration writes the iteration's wholesale task update. Reports
// whether the record turned out to be cancelled underneath us.
func (c *Conductor) persistIteration(taskID string, iteration int, d *decision.Decision, action string) (cancelled bool, err error) {
	updated, err := c.tasks.Update(taskID, func(t *task.Task) error {
		if t.Status == task.StatusCancelled {
			return nil
		}
		t.Iteration = iteration
		if d != nil {
			t.Analysis = d.Analysis
			t.Progress = d.ProgressPercent
			t.CurrentPhase = d.CurrentPhaseID
		}
		if action != "" {
			t.History = append(t.History, task.HistoryEntry{
				Iteration: iteration,
				Action:    action,
				Timestamp: time.Now().UTC(),
			})
			if len(t.History) > 100 {
				t.History = t.History[len(t.History)-100:]
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to persist iteration %d: %w", iteration, err)
	}
	c.metrics.iterationDone()
	return updated.Status == task.StatusCancelled, nil
}

// finish moves the task to a terminal state, unless it already reached one
// (a cancel, or an earlier transition, beat us to it).
func (c *Conductor) finish(taskID string, status task.Status, errMsg string) (task.Status, error) {
	final := status
	_, err := c.tasks.Update(taskID, func(t *task.Task) error {
		if t.Status.Terminal() {
			final = t.Status
			return nil
		}
		now := time.Now().UTC()
		t.Status = status
		t.CompletedAt = &now
		if errMsg != "" {
			t.Error = errMsg
		}
		return nil
	})
	if err != nil {
		return task.StatusError, err
	}
	if final == status {
		c.tasks.Log(taskID, statusLogType(status), "task "+string(status))
	}
	return final, nil
}

func statusLogType(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return "success"
	case task.StatusError:
		return "error"
	default:
		return "warning"
	}
}

func (c *Conductor) sleep(ctx context.Context) {
	select {
	case <-time.After(c.opts.IterationDelay):
	case <-ctx.Done():
	}
}

func buildSubTaskPrompt(analysis string, st decision.SubTask) string {
	var sb strings.Builder
	sb.WriteString("You are implementing one file of a larger project.\n")
	if analysis != "" {
		sb.WriteString("Project context: " + analysis + "\n")
	}
	sb.WriteString("File to produce: " + st.FilePath + "\n")
	sb.WriteString("What it must do: " + st.Description + "\n")
	if len(st.Dependencies) > 0 {
		sb.WriteString("It depends on: " + strings.Join(st.Dependencies, ", ") + "\n")
	}
	sb.WriteString("Respond with the complete file content only, no commentary, no fences.")
	return sb.String()
}

func buildActionPrompt(a *decision.Action) string {
	return fmt.Sprintf("Produce the complete content of the file %s.\nPurpose: %s\nRespond with the file content only, no commentary, no fences.", a.FilePath, a.Description)
}
