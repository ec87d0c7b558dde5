package server

import (
	"errors"
	"net/http"

	"streamwarden/internal/auth"
	"streamwarden/internal/models"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	Account *models.Account `json:"account"`
}

// handleSetup creates the first admin account. Rejected once any account
// exists; after that, account management goes through an admin.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	required, err := s.store.SetupRequired()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "setup check failed")
		return
	}
	if !required {
		writeError(w, http.StatusConflict, "setup already completed")
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing password failed")
		return
	}
	account, err := s.store.CreateAccount(req.Username, models.RoleAdmin, hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating account failed")
		return
	}

	token, _, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login after setup failed")
		return
	}
	writeJSON(w, http.StatusCreated, loginResponse{Token: token, Account: account})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, account, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Account: account})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AccountFromContext(r.Context()))
}
