package server

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"streamwarden/internal/auth"
	"streamwarden/internal/cache"
	"streamwarden/internal/models"
	"streamwarden/internal/provider"
	"streamwarden/internal/store"
)

type testEnv struct {
	srv      *Server
	store    *store.Store
	sessions *cache.Cache[models.LiveSession]
	users    *cache.Cache[models.LiveUser]
	tokens   map[string]string // account name -> bearer token
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{
		store:    s,
		sessions: cache.NewSessions(),
		users:    cache.NewUsers(),
		tokens:   make(map[string]string),
	}
	mgr := auth.NewManager(s, time.Hour)
	env.srv = NewServer(s, mgr, WithCaches(env.sessions, env.users))
	return env
}

// account creates an account and logs it in, caching the bearer token.
func (e *testEnv) account(t *testing.T, name string, role models.Role) *models.Account {
	t.Helper()
	hash, err := auth.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	a, err := e.store.CreateAccount(name, role, hash)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	token, err := e.store.CreateToken(a.ID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	e.tokens[name] = token
	return a
}

func (e *testEnv) authorize(r *http.Request, name string) {
	r.Header.Set("Authorization", "Bearer "+e.tokens[name])
}

// stubProvider serves canned sessions for API tests.
type stubProvider struct {
	provider.Provider
	mu       sync.Mutex
	id       int64
	name     string
	sessions []models.LiveSession
}

func (p *stubProvider) BackendID() int64 { return p.id }

func (p *stubProvider) ListActiveSessions(ctx context.Context) ([]models.LiveSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.LiveSession, len(p.sessions))
	copy(out, p.sessions)
	for i := range out {
		out[i].BackendID = p.id
		out[i].BackendName = p.name
	}
	return out, nil
}

func (p *stubProvider) ListUsers(ctx context.Context) ([]models.LiveUser, error) {
	return nil, nil
}

// seedBackend registers a backend record plus a stub provider feeding the
// sessions cache.
func (e *testEnv) seedBackend(t *testing.T, name string, visible bool, sessions ...models.LiveSession) *models.Backend {
	t.Helper()
	b := &models.Backend{
		Name:             name,
		Family:           models.FamilyPlex,
		URL:              "http://" + name + ":32400",
		Enabled:          true,
		VisibleToViewers: visible,
	}
	if err := e.store.CreateBackend(b, "key"); err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	p := &stubProvider{id: b.ID, name: name, sessions: sessions}
	e.sessions.AddBackend(*b, p)
	e.users.AddBackend(*b, p)
	return b
}
