// Package auth handles local account login and bearer token verification.
// Tokens are opaque, stored server-side, and expire; there is no refresh,
// an expired token just means logging in again.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamwarden/internal/cache"
	"streamwarden/internal/models"
	"streamwarden/internal/store"
)

const DefaultTokenTTL = 7 * 24 * time.Hour

var ErrInvalidCredentials = errors.New("invalid username or password")

type Manager struct {
	store    *store.Store
	tokenTTL time.Duration
}

func NewManager(s *store.Store, tokenTTL time.Duration) *Manager {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Manager{store: s, tokenTTL: tokenTTL}
}

// Login verifies credentials and issues a bearer token. Unknown accounts
// burn the same hashing cost as wrong passwords.
func (m *Manager) Login(ctx context.Context, name, password string) (string, *models.Account, error) {
	account, hash, err := m.store.GetAccountByName(name)
	if errors.Is(err, models.ErrNotFound) {
		VerifyPassword(password, dummyHash)
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if hash == "" {
		return "", nil, ErrInvalidCredentials
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		return "", nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := m.store.CreateToken(account.ID, time.Now().Add(m.tokenTTL))
	if err != nil {
		return "", nil, err
	}
	return token, account, nil
}

func (m *Manager) Logout(ctx context.Context, token string) error {
	return m.store.DeleteToken(token)
}

// Authenticate resolves a bearer token to its account.
func (m *Manager) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	return m.store.GetTokenAccount(token)
}

// ViewerFor builds the cache read identity for an account, loading the
// grant set for manager-scoped accounts.
func (m *Manager) ViewerFor(account *models.Account) (cache.Viewer, error) {
	v := cache.Viewer{
		AccountID: account.ID,
		Name:      account.Name,
		Role:      account.Role,
	}
	if account.Role == models.RoleManager {
		granted, err := m.store.GrantedBackends(account.ID)
		if err != nil {
			return cache.Viewer{}, err
		}
		v.Granted = granted
	}
	return v, nil
}
