package frontend

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
)

type dataResponse struct {
	Locations    any  `json:"locations,omitempty"`
	Measurements any  `json:"measurements,omitempty"`
	Success      bool `json:"success"`
}

// handleData serves the registry plus the recent measurement window.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ingest.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("failed to build snapshot", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, dataResponse{Success: false})
		return
	}

	s.writeJSON(w, http.StatusOK, dataResponse{
		Success:      true,
		Locations:    snap.Locations,
		Measurements: snap.Measurements,
	})
}

// handleIndex serves index.html from the static directory, or the built-in shell.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.config.StaticDir != "" {
		index := filepath.Join(s.config.StaticDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			http.ServeFile(w, r, index)
			return
		}
	}

	snap, err := s.ingest.Snapshot(r.Context())
	if err != nil {
		// the shell still works without the city list
		s.logger.Warn("rendering index without locations", "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderIndex(r.Context(), w, s.config.Title, snap.Locations, s.metrics); err != nil {
		s.logger.Error("failed to render index", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// staticHandler serves the client bundle, or 404s when none is configured.
func (s *Server) staticHandler() http.Handler {
	if s.config.StaticDir == "" {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.Dir(s.config.StaticDir))
}

// handleHealth reports liveness and the number of live connections.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.ingest.Connections(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
