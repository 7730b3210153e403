package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"podium/internal/conductor"
)

type debateRequest struct {
	Mode        string   `json:"mode"`
	Topic       string   `json:"topic" binding:"required"`
	ModelIDs    []string `json:"model_ids" binding:"required,min=2"`
	Rounds      int      `json:"rounds"`
	MaxOutput   int      `json:"max_output"`
	Temperature float64  `json:"temperature"`
}

func (r *debateRequest) toConductor() conductor.DebateRequest {
	return conductor.DebateRequest{
		Mode:        conductor.DebateMode(r.Mode),
		Topic:       r.Topic,
		ModelIDs:    r.ModelIDs,
		Rounds:      r.Rounds,
		MaxOutput:   r.MaxOutput,
		Temperature: r.Temperature,
	}
}

// handleDebate runs a full multi-round exchange between the given models and
// returns the transcript once every turn has an outcome.
func (s *Server) handleDebate(c *gin.Context) {
	var req debateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	result, err := s.conductor.Debate(c.Request.Context(), req.toConductor())
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleDebateStream is the SSE variant: every turn arrives as its own
// frame, bracketed by round markers. A dropped consumer stops the remaining
// turns.
func (s *Server) handleDebateStream(c *gin.Context) {
	var req debateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	events, err := s.conductor.DebateStream(c.Request.Context(), req.toConductor())
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	w, ok := newSSEWriter(c)
	if !ok {
		errorResponse(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	for ev := range events {
		if !w.send(ev) {
			return
		}
	}
}
