package httpapi

import (
	"net/http"
	"os"
	"strconv"
	"time"
)

func maxAgeHours(r *http.Request, fallback int) time.Duration {
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Hour
		}
	}
	return time.Duration(fallback) * time.Hour
}

type cleanupRunsResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleCleanupRuns(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UTC().Add(-maxAgeHours(r, 72))
	n, err := s.maintenance.PurgeFinishedBefore(r.Context(), cutoff)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupRunsResponse{Removed: n})
}

type healthCheckResponse struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.resources == nil {
		writeJSON(w, http.StatusOK, healthCheckResponse{Status: "unknown", Checks: map[string]any{}})
		return
	}
	checks := s.resources.Checks()
	status := "healthy"
	checksOut := make(map[string]any, len(checks))
	for name, c := range checks {
		checksOut[name] = c
		if c.Status != "ok" {
			status = "warning"
		}
	}
	writeJSON(w, http.StatusOK, healthCheckResponse{Status: status, Checks: checksOut})
}

type cleanupTempFilesResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleCleanupTempFiles(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		dir = os.TempDir()
	}
	n, err := s.maintenance.CleanupTempFiles(dir, maxAgeHours(r, 24))
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupTempFilesResponse{Removed: n})
}

func (s *Server) handleLogStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.maintenance.LogStatistics(r.Context())
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
