package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler streams job status to clients watching an upload.
// One connection watches one job; the stream closes after the terminal
// update is delivered.
type WebSocketHandler struct {
	jobs         interfaces.JobStorage
	pushInterval time.Duration
	logger       arbor.ILogger
}

func NewWebSocketHandler(config *common.WebSocketConfig, jobs interfaces.JobStorage, logger arbor.ILogger) *WebSocketHandler {
	pushInterval := time.Second
	if config != nil && config.PushInterval != "" {
		if parsed, err := time.ParseDuration(config.PushInterval); err == nil && parsed > 0 {
			pushInterval = parsed
		}
	}

	return &WebSocketHandler{
		jobs:         jobs,
		pushInterval: pushInterval,
		logger:       logger,
	}
}

// jobStatusUpdate is one frame of the status stream
type jobStatusUpdate struct {
	JobID           string           `json:"job_id"`
	Status          models.JobStatus `json:"status"`
	Progress        int              `json:"progress"`
	TotalChunks     *int             `json:"total_chunks"`
	ProcessedChunks int              `json:"processed_chunks"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// StreamJobStatus upgrades the connection and pushes status frames
// until the job reaches a terminal state. GET /ws/jobs/{job_id}
func (h *WebSocketHandler) StreamJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/ws/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	// Reject unknown jobs before upgrading so the client gets a real
	// HTTP status instead of an immediate close frame
	if _, err := h.jobs.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("job_id", jobID).Msg("WebSocket client connected")

	// Drain client frames so pings and close messages are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Every(h.pushInterval), 1)
	var lastSent *jobStatusUpdate

	for {
		if err := limiter.Wait(r.Context()); err != nil {
			return
		}

		job, err := h.jobs.GetJob(context.Background(), jobID)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to load job for status push")
			return
		}

		update := &jobStatusUpdate{
			JobID:           job.ID,
			Status:          job.Status,
			Progress:        job.Progress,
			TotalChunks:     job.TotalChunks,
			ProcessedChunks: job.ProcessedChunks,
			ErrorMessage:    job.ErrorMessage,
		}

		// Skip pushes that carry nothing new
		if lastSent == nil || updateChanged(lastSent, update) {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(update); err != nil {
				h.logger.Debug().Err(err).Str("job_id", jobID).Msg("WebSocket client gone")
				return
			}
			lastSent = update
		}

		if job.Status.IsTerminal() {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)))
			return
		}
	}
}

// updateChanged compares frames by value, including the chunk total
// behind the pointer
func updateChanged(prev, next *jobStatusUpdate) bool {
	if prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		prev.ProcessedChunks != next.ProcessedChunks ||
		prev.ErrorMessage != next.ErrorMessage {
		return true
	}
	prevTotal, nextTotal := -1, -1
	if prev.TotalChunks != nil {
		prevTotal = *prev.TotalChunks
	}
	if next.TotalChunks != nil {
		nextTotal = *next.TotalChunks
	}
	return prevTotal != nextTotal
}
