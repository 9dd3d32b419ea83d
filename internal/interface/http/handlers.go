package http

import (
	"net/http"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves basic service information.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "Moodle Bot",
		"endpoints": map[string]string{
			"liveness":  "/healthz",
			"readiness": "/readyz",
			"metrics":   "/metrics",
			"stats":     "/stats",
		},
	})
}

// handleLive is the liveness probe. It never touches dependencies.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": s.Uptime().String(),
	})
}

// handleReady is the readiness probe: Postgres and, when enabled, Redis.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStats exposes the bot's in-memory counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stats == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Stats are not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Stats())
}
