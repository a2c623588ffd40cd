package handlers

import (
	"encoding/json"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/queue"
)

// ProgressHandler streams job stage transitions over a WebSocket until the
// job reaches a terminal state.
type ProgressHandler struct {
	registry *queue.Registry
	log      *logrus.Entry
}

// NewProgressHandler creates the handler.
func NewProgressHandler(registry *queue.Registry, log *logrus.Entry) *ProgressHandler {
	return &ProgressHandler{registry: registry, log: log}
}

// Handle serves one connection.
// GET /ws/jobs/:id
func (h *ProgressHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Params("id")
	if _, err := h.registry.Get(jobID); err != nil {
		c.WriteMessage(websocket.TextMessage, []byte(`{"error":"job not found"}`))
		return
	}

	updates, cancel := h.registry.Watch(jobID)
	defer cancel()

	// Drain client frames so close handshakes are noticed; the stream is
	// one-directional otherwise.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case job, open := <-updates:
			if !open {
				return
			}
			payload, err := json.Marshal(job)
			if err != nil {
				h.log.WithError(err).Error("Failed to marshal job update")
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
