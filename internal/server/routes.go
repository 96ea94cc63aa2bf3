package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - per-job status streaming
	mux.HandleFunc("/ws/jobs/", s.app.WSHandler.StreamJobStatus)

	// API routes - Documents
	mux.HandleFunc("/api/v2/documents/upload", s.app.DocumentHandler.UploadHandler)
	mux.HandleFunc("/api/v2/documents/status/", s.app.DocumentHandler.StatusHandler)
	mux.HandleFunc("/api/v2/documents/list", s.app.DocumentHandler.ListHandler)
	mux.HandleFunc("/api/v2/documents/stats", s.app.DocumentHandler.StatsHandler)

	// API routes - Query
	mux.HandleFunc("/api/v2/query", s.app.QueryHandler.Query)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
