package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/queue"
)

// APIHandler serves system endpoints: health, version and the API 404
type APIHandler struct {
	bus    *queue.Bus
	docs   interfaces.DocumentStorage
	logger arbor.ILogger
}

func NewAPIHandler(bus *queue.Bus, docs interfaces.DocumentStorage, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		bus:    bus,
		docs:   docs,
		logger: logger,
	}
}

// HealthHandler reports service health with queue depths and index
// size. GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := "ok"

	queues := make(map[string]int)
	for _, topic := range []string{
		models.TopicIngest,
		models.TopicChunk,
		models.TopicIngestDLQ,
		models.TopicChunkDLQ,
	} {
		depth, err := h.bus.Depth(topic)
		if err != nil {
			h.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to read queue depth")
			depth = -1
			status = "degraded"
		}
		queues[topic] = depth
	}

	documents, err := h.docs.CountDocuments()
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count indexed documents")
		documents = -1
		status = "degraded"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":            status,
		"version":           common.GetVersion(),
		"queues":            queues,
		"indexed_documents": documents,
	})
}

// VersionHandler returns build information. GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// NotFoundHandler returns a JSON 404 for unmatched API routes
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Endpoint not found: "+r.URL.Path)
}
