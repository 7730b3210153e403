package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"podium/internal/conductor"
	"podium/internal/dispatch"
)

type executeRequest struct {
	Prompt      string   `json:"prompt" binding:"required"`
	Models      []string `json:"models" binding:"required,min=1"`
	MaxOutput   int      `json:"max_output"`
	Temperature float64  `json:"temperature"`
	Workers     int      `json:"workers"`
}

func (r *executeRequest) callRequests() []dispatch.CallRequest {
	requests := make([]dispatch.CallRequest, len(r.Models))
	for i, model := range r.Models {
		requests[i] = dispatch.CallRequest{
			BackendID:     model,
			Payload:       r.Prompt,
			MaxOutput:     r.MaxOutput,
			Temperature:   r.Temperature,
			SequenceIndex: i,
		}
	}
	return requests
}

func (r *executeRequest) workerCount() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return len(r.Models)
}

// handleExecute dispatches one prompt to a set of models and returns the
// full result set once every call has an outcome.
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	results := s.dispatcher.Run(c.Request.Context(), req.callRequests(), req.workerCount())
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"summary": dispatch.Summarize(results, time.Since(start)),
	})
}

// handleExecuteStream is the SSE variant: results arrive as they complete,
// bracketed by start and complete frames. A dropped consumer cancels the
// remaining work.
func (s *Server) handleExecuteStream(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	w, ok := newSSEWriter(c)
	if !ok {
		errorResponse(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	ctx := c.Request.Context()
	for ev := range s.dispatcher.Stream(ctx, req.callRequests(), req.workerCount()) {
		if !w.send(ev) {
			return
		}
	}
}

type orchestrateRequest struct {
	Mode        string   `json:"mode" binding:"required"`
	Prompt      string   `json:"prompt" binding:"required"`
	Models      []string `json:"models" binding:"required,min=1"`
	Conductor   string   `json:"conductor_model"`
	MaxOutput   int      `json:"max_output"`
	Temperature float64  `json:"temperature"`
	Workers     int      `json:"workers"`
}

// handleOrchestrate runs a one-shot multi-model orchestration in one of the
// delegate, evaluate or synthesize modes.
func (s *Server) handleOrchestrate(c *gin.Context) {
	var req orchestrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	mode, err := conductor.ParseMode(req.Mode)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	result, err := s.conductor.OneShot(c.Request.Context(), conductor.OneShotRequest{
		Mode:         mode,
		Prompt:       req.Prompt,
		WorkerModels: req.Models,
		ConductorID:  req.Conductor,
		MaxOutput:    req.MaxOutput,
		Temperature:  req.Temperature,
		Workers:      req.Workers,
	})
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type generatePlanRequest struct {
	Goal  string `json:"goal" binding:"required"`
	Model string `json:"model"`
}

func (s *Server) handleGeneratePlan(c *gin.Context) {
	var req generatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	plan, err := s.conductor.GeneratePlan(c.Request.Context(), model, req.Goal)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}
