package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"streamwarden/internal/httputil"
	"streamwarden/internal/models"
	"streamwarden/internal/provider"
)

func backendID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	backends, err := s.store.ListBackends()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing backends failed")
		return
	}
	writeJSON(w, http.StatusOK, backends)
}

func (s *Server) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	id, err := backendID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backend id")
		return
	}
	b, err := s.store.GetBackend(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "getting backend failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCreateBackend(w http.ResponseWriter, r *http.Request) {
	var input models.BackendInput
	if !decodeJSON(w, r, &input) {
		return
	}
	b := input.ToBackend()
	account := AccountFromContext(r.Context())
	if account != nil {
		b.OwnerID = account.ID
	}
	if err := b.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := httputil.ValidateBackendURL(b.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateBackend(b, input.APIKey); err != nil {
		writeError(w, http.StatusInternalServerError, "creating backend failed")
		return
	}
	if b.Enabled {
		s.registerBackend(*b, input.APIKey)
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUpdateBackend(w http.ResponseWriter, r *http.Request) {
	id, err := backendID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backend id")
		return
	}
	var input models.BackendInput
	if !decodeJSON(w, r, &input) {
		return
	}
	b := input.ToBackend()
	b.ID = id
	if err := b.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateBackend(b); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "backend not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "updating backend failed")
		return
	}
	if err := s.store.RotateBackendKey(id, input.APIKey); err != nil {
		writeError(w, http.StatusInternalServerError, "rotating backend key failed")
		return
	}

	s.unregisterBackend(id)
	if b.Enabled {
		s.registerBackend(*b, input.APIKey)
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBackend(w http.ResponseWriter, r *http.Request) {
	id, err := backendID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backend id")
		return
	}
	if err := s.store.DeleteBackend(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "backend not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "deleting backend failed")
		return
	}
	s.unregisterBackend(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestBackend checks reachability with the stored credentials.
func (s *Server) handleTestBackend(w http.ResponseWriter, r *http.Request) {
	id, err := backendID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backend id")
		return
	}
	b, err := s.store.GetBackend(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "getting backend failed")
		return
	}
	key, err := s.store.GetBackendKey(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading backend key failed")
		return
	}
	p, err := provider.New(*b, key)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok := p.Connect(r.Context())
	version := p.VersionInfo(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"reachable": ok,
		"version":   version,
	})
}

// registerBackend wires a backend into both collectors. Construction
// failures are reported by the next cycle's error summary, not here.
func (s *Server) registerBackend(b models.Backend, apiKey string) {
	p, err := provider.New(b, apiKey)
	if err != nil {
		return
	}
	if s.sessions != nil {
		s.sessions.AddBackend(b, p)
	}
	if s.users != nil {
		s.users.AddBackend(b, p)
	}
}

func (s *Server) unregisterBackend(id int64) {
	if s.sessions != nil {
		s.sessions.RemoveBackend(id)
	}
	if s.users != nil {
		s.users.RemoveBackend(id)
	}
}
