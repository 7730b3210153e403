package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// sseWriter frames JSON payloads as server-sent events. Each payload carries
// its own type field, so no SSE event name is used.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	return &sseWriter{c: c, flusher: flusher}, true
}

func (w *sseWriter) send(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := w.c.Writer.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
		return false
	}
	w.flusher.Flush()
	return true
}
