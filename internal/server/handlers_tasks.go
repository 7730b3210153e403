package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"podium/internal/conductor"
	"podium/internal/task"
	"podium/internal/workspace"
)

type createTaskRequest struct {
	Workspace     string     `json:"workspace" binding:"required"`
	Goal          string     `json:"goal" binding:"required"`
	Model         string     `json:"model"`
	WorkerCount   int        `json:"worker_count"`
	MaxIterations int        `json:"max_iterations"`
	MaxOutput     int        `json:"max_output"`
	Temperature   float64    `json:"temperature"`
	Plan          *task.Plan `json:"plan"`
	GeneratePlan  bool       `json:"generate_plan"`
	// Start launches the conductor loop in the background immediately.
	// Defaults to true; set false to create the record and start later.
	Start *bool `json:"start"`
}

func (s *Server) taskConfig(req *createTaskRequest) task.Config {
	cfg := task.Config{
		ModelID:       req.Model,
		WorkerCount:   req.WorkerCount,
		MaxIterations: req.MaxIterations,
		MaxOutput:     req.MaxOutput,
		Temperature:   req.Temperature,
	}
	if cfg.ModelID == "" {
		cfg.ModelID = s.cfg.DefaultModel
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = s.cfg.WorkerCount
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = s.cfg.MaxParallel
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = s.cfg.MaxIterations
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = s.cfg.MaxOutput
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = s.cfg.Temperature
	}
	return cfg
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	if err := s.workspaces.EnsureExists(req.Workspace); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	created, err := s.tasks.Create(req.Workspace, req.Goal, s.taskConfig(&req))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}

	plan := req.Plan
	if plan == nil && req.GeneratePlan {
		plan, err = s.conductor.GeneratePlan(c.Request.Context(), created.Config.ModelID, req.Goal)
		if err != nil {
			s.logger.Warn("plan generation for %s failed, continuing without: %v", created.ID, err)
			plan = nil
		}
	}
	if plan != nil {
		created, err = s.tasks.Update(created.ID, func(t *task.Task) error {
			t.Plan = plan
			return nil
		})
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err)
			return
		}
	}

	if req.Start == nil || *req.Start {
		s.conductor.StartBackground(created.ID)
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.tasks.List(c.Query("workspace"))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.tasks.Get(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.tasks.Delete(c.Param("id")); err != nil {
		status := http.StatusNotFound
		if t, getErr := s.tasks.Get(c.Param("id")); getErr == nil && t.Status == task.StatusRunning {
			status = http.StatusConflict
		}
		errorResponse(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (s *Server) handleGetLogs(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, total, err := s.tasks.GetLogs(c.Param("id"), offset, limit)
	if err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "total": total, "offset": offset})
}

// handleGetPhases reports the task plan's derived phase completion against
// the current workspace contents.
func (s *Server) handleGetPhases(c *gin.Context) {
	t, err := s.tasks.Get(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	if t.Plan == nil {
		c.JSON(http.StatusOK, gin.H{"phases": []workspace.PhaseStatus{}})
		return
	}
	snap, err := s.workspaces.Take(t.Workspace)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	statuses := workspace.EvaluatePlan(t.Plan, snap)
	resp := gin.H{"phases": statuses}
	if first := workspace.FirstIncomplete(statuses); first != nil {
		resp["current_phase"] = first.Phase.ID
	}
	c.JSON(http.StatusOK, resp)
}

type cancelRequest struct {
	PurgeFiles bool `json:"purge_files"`
	PurgeLogs  bool `json:"purge_logs"`
}

// handleCancelTask flips the task to cancelled; the loop notices at its next
// iteration boundary. Purges run synchronously here, independent of whether
// the loop has noticed yet.
func (s *Server) handleCancelTask(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	cancelled, err := s.tasks.Cancel(c.Param("id"), req.PurgeLogs)
	if err != nil {
		errorResponse(c, http.StatusConflict, err)
		return
	}

	var purged []string
	if req.PurgeFiles && len(cancelled.FilesCreated) > 0 {
		purged = s.workspaces.PurgeFiles(cancelled.Workspace, cancelled.FilesCreated)
		cancelled, err = s.tasks.Update(cancelled.ID, func(t *task.Task) error {
			t.FilesCreated = []string{}
			return nil
		})
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err)
			return
		}
		s.tasks.Log(cancelled.ID, "warning", fmt.Sprintf("purged %d created files", len(purged)))
	}

	c.JSON(http.StatusOK, gin.H{"task": cancelled, "purged_files": purged})
}

type instructionRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleAddInstruction(c *gin.Context) {
	var req instructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	t, err := s.tasks.AddInstruction(c.Param("id"), req.Text)
	if err != nil {
		errorResponse(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": t.Instructions})
}

func (s *Server) handleGetInstructions(c *gin.Context) {
	t, err := s.tasks.Get(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": t.Instructions})
}

type resumeRequest struct {
	Start *bool `json:"start"`
}

func (s *Server) handleResumeTask(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	resumed, err := s.tasks.Resume(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusConflict, err)
		return
	}
	if req.Start == nil || *req.Start {
		s.conductor.StartBackground(resumed.ID)
	}
	c.JSON(http.StatusCreated, resumed)
}

// handleRunStream drives a pending task in the foreground, streaming its
// progress frames over SSE until it reaches a terminal state.
func (s *Server) handleRunStream(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := s.tasks.Get(taskID); err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	w, ok := newSSEWriter(c)
	if !ok {
		errorResponse(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	err := s.conductor.Run(c.Request.Context(), taskID, func(ev conductor.Event) {
		w.send(ev)
	})
	if err != nil {
		w.send(gin.H{"type": "error", "task_id": taskID, "message": err.Error()})
	}
}
