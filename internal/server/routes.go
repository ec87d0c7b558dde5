package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamwarden/internal/models"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/auth/setup", s.handleSetup)
	s.router.Post("/api/auth/login", s.handleLogin)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))
		r.Use(RequireAuth(s.auth))

		r.Post("/auth/logout", s.handleLogout)
		r.Get("/me", s.handleMe)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/users", s.handleListUsers)
		r.Get("/cache/status", s.handleCacheStatus)
		r.Get("/ws", s.handleSessionsWS)

		r.Group(func(ar chi.Router) {
			ar.Use(RequireRole(models.RoleAdmin))

			ar.Post("/cache/refresh", s.handleRefresh)

			ar.Get("/backends", s.handleListBackends)
			ar.Post("/backends", s.handleCreateBackend)
			ar.Get("/backends/{id}", s.handleGetBackend)
			ar.Put("/backends/{id}", s.handleUpdateBackend)
			ar.Delete("/backends/{id}", s.handleDeleteBackend)
			ar.Post("/backends/{id}/test", s.handleTestBackend)

			ar.Get("/settings/policy", s.handleGetPolicy)
			ar.Put("/settings/policy", s.handleUpdatePolicy)

			ar.Get("/audit", s.handleListAudit)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
