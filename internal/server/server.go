// Package server exposes the HTTP API: cache reads, backend management,
// policy settings, auth, and the live session push channel.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"streamwarden/internal/auth"
	"streamwarden/internal/cache"
	"streamwarden/internal/models"
	"streamwarden/internal/policy"
	"streamwarden/internal/store"
)

type Server struct {
	router     chi.Router
	store      *store.Store
	auth       *auth.Manager
	sessions   *cache.Cache[models.LiveSession]
	users      *cache.Cache[models.LiveUser]
	policy     *policy.Engine
	corsOrigin string
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithCaches(sessions *cache.Cache[models.LiveSession], users *cache.Cache[models.LiveUser]) Option {
	return func(s *Server) {
		s.sessions = sessions
		s.users = users
	}
}

func WithPolicy(e *policy.Engine) Option {
	return func(s *Server) { s.policy = e }
}

func NewServer(st *store.Store, mgr *auth.Manager, opts ...Option) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		store:  st,
		auth:   mgr,
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
