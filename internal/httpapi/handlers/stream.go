package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/eventbus"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

// maxStreamSubscribers bounds concurrent GET /logs/stream connections;
// past this new connections are rejected rather than left to pile up
// goroutines against the hub.
const maxStreamSubscribers = 10

// StreamHandler serves the job-event SSE stream off eventbus.Hub's
// single broadcast stream, bounded with a semaphore since there is no
// per-user auth model here to naturally cap fan-out.
type StreamHandler struct {
	log  *logger.Logger
	hub  *eventbus.Hub
	sema *semaphore.Weighted
}

func NewStreamHandler(log *logger.Logger, hub *eventbus.Hub) *StreamHandler {
	return &StreamHandler{
		log:  log.With("component", "StreamHandler"),
		hub:  hub,
		sema: semaphore.NewWeighted(maxStreamSubscribers),
	}
}

func (h *StreamHandler) Stream(c *gin.Context) {
	if !h.sema.TryAcquire(1) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "too many open log streams", "code": "stream_capacity"}})
		return
	}
	defer h.sema.Release(1)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "streaming unsupported"}})
		return
	}

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-sub.Outbound:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.log.Warn("failed to marshal sse event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: job_update\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
