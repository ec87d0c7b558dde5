package server

import (
	"net/http"

	"streamwarden/internal/cache"
	"streamwarden/internal/models"
)

func (s *Server) viewer(r *http.Request) (cache.Viewer, bool) {
	account := AccountFromContext(r.Context())
	if account == nil {
		return cache.Viewer{}, false
	}
	v, err := s.auth.ViewerFor(account)
	if err != nil {
		return cache.Viewer{}, false
	}
	return v, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "collector not configured")
		return
	}
	v, ok := s.viewer(r)
	if !ok {
		writeError(w, http.StatusInternalServerError, "resolving viewer failed")
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.GetCached(r.Context(), v))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusServiceUnavailable, "collector not configured")
		return
	}
	v, ok := s.viewer(r)
	if !ok {
		writeError(w, http.StatusInternalServerError, "resolving viewer failed")
		return
	}
	writeJSON(w, http.StatusOK, s.users.GetCached(r.Context(), v))
}

type cacheStatusResponse struct {
	Sessions models.CacheStatus `json:"sessions"`
	Users    models.CacheStatus `json:"users"`
	Policy   *policyStatus      `json:"policy,omitempty"`
}

type policyStatus struct {
	Enabled         bool `json:"enabled"`
	TrackedSessions int  `json:"tracked_sessions"`
	ActiveCooldowns int  `json:"active_cooldowns"`
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	resp := cacheStatusResponse{}
	if s.sessions != nil {
		resp.Sessions = s.sessions.Status()
	}
	if s.users != nil {
		resp.Users = s.users.Status()
	}
	if s.policy != nil {
		resp.Policy = &policyStatus{
			Enabled:         s.policy.Config().Enabled,
			TrackedSessions: s.policy.TrackedSessions(),
			ActiveCooldowns: s.policy.ActiveCooldowns(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh forces an immediate out-of-cycle collection pass.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.sessions != nil {
		s.sessions.Refresh(r.Context())
	}
	if s.users != nil {
		s.users.Refresh(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
