package server

import (
	"net/http"

	"streamwarden/internal/models"
)

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	config, err := s.store.GetPolicyConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading policy failed")
		return
	}
	writeJSON(w, http.StatusOK, config)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var config models.PolicyConfig
	if !decodeJSON(w, r, &config) {
		return
	}
	if config.SourceMinHeight <= 0 || config.DeliveredMaxHeight <= 0 {
		writeError(w, http.StatusBadRequest, "resolution thresholds must be positive")
		return
	}
	if config.GracePeriod < 0 || config.Cooldown < 0 {
		writeError(w, http.StatusBadRequest, "durations must not be negative")
		return
	}
	if err := s.store.SetPolicyConfig(config); err != nil {
		writeError(w, http.StatusInternalServerError, "saving policy failed")
		return
	}
	if s.policy != nil {
		s.policy.SetConfig(config)
	}
	writeJSON(w, http.StatusOK, config)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing audit entries failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
