package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/queue"
)

// DocumentHandler serves the document upload and job status API. An
// upload stores the raw bytes, creates a pending job and publishes an
// ingest event; all processing happens in the queue workers.
type DocumentHandler struct {
	config *common.Config
	jobs   interfaces.JobStorage
	blobs  interfaces.BlobStorage
	bus    *queue.Bus
	logger arbor.ILogger
}

func NewDocumentHandler(config *common.Config, jobs interfaces.JobStorage, blobs interfaces.BlobStorage, bus *queue.Bus, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		config: config,
		jobs:   jobs,
		blobs:  blobs,
		bus:    bus,
		logger: logger,
	}
}

// UploadHandler accepts a multipart upload and returns 202 with the
// job id. POST /api/v2/documents/upload
func (h *DocumentHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	maxSize := h.config.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1)

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Request must include a 'file' form field")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !h.extensionAllowed(filename) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf(
			"File type not allowed for '%s'; allowed extensions: %s",
			filename, strings.Join(h.config.Upload.AllowedExtensions, ", ")))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	if int64(len(data)) > maxSize {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("File exceeds maximum size of %d bytes", maxSize))
		return
	}

	ctx := r.Context()

	blobKey, err := h.blobs.Put(ctx, data)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", filename).Msg("Failed to store upload")
		WriteError(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}

	job := &models.Job{
		ID:          common.NewJobID(),
		Filename:    filename,
		FileSize:    int64(len(data)),
		ContentType: header.Header.Get("Content-Type"),
		BlobKey:     blobKey,
		Status:      models.JobStatusPending,
		Progress:    models.ProgressPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		h.logger.Error().Err(err).Str("filename", filename).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "Failed to create ingestion job")
		return
	}

	payload, err := json.Marshal(models.NewIngestMessage(job))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to encode ingest event")
		return
	}
	if err := h.bus.Publish(ctx, models.TopicIngest, payload); err != nil {
		// The job row exists but no event was published; fail it so the
		// client sees a terminal state instead of a job stuck pending
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to publish ingest event")
		if failErr := h.jobs.FailJob(ctx, job.ID, "failed to enqueue ingestion"); failErr != nil {
			h.logger.Warn().Err(failErr).Str("job_id", job.ID).Msg("Failed to mark job failed")
		}
		WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingestion")
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("filename", filename).
		Int64("file_size", job.FileSize).
		Msg("Upload accepted")

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":    job.ID,
		"status":    job.Status,
		"filename":  job.Filename,
		"file_size": job.FileSize,
	})
}

// StatusHandler returns the current state of one job.
// GET /api/v2/documents/status/{job_id}
func (h *DocumentHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/v2/documents/status/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, fmt.Sprintf("Job '%s' not found", jobID))
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ListHandler returns recent jobs, newest first, with optional status
// filtering. GET /api/v2/documents/list?limit=20&status=completed
func (h *DocumentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	status := models.JobStatus(query.Get("status"))
	if status != "" && !status.IsValid() {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status filter '%s'", status))
		return
	}

	ctx := r.Context()
	jobs, err := h.jobs.ListJobs(ctx, limit, status)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	total, err := h.jobs.CountJobs(ctx, status)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}

	if jobs == nil {
		jobs = []*models.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": total,
	})
}

// StatsHandler returns job counts by status.
// GET /api/v2/documents/stats
func (h *DocumentHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get job stats")
		WriteError(w, http.StatusInternalServerError, "Failed to get statistics")
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

func (h *DocumentHandler) extensionAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, allowed := range h.config.Upload.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
