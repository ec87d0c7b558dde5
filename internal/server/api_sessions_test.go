package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"streamwarden/internal/models"
)

func listSessions(t *testing.T, env *testEnv, as string) []models.LiveSession {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	env.authorize(req, as)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/sessions as %s: %d: %s", as, w.Code, w.Body.String())
	}
	var sessions []models.LiveSession
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return sessions
}

func TestListSessionsRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestListSessionsByRole(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "root", models.RoleAdmin)
	env.account(t, "alice", models.RoleViewer)

	env.seedBackend(t, "open", true,
		models.LiveSession{SessionID: "s1", UserName: "alice", Title: "A", FullTitle: "A"},
		models.LiveSession{SessionID: "s2", UserName: "bob", Title: "B", FullTitle: "B"},
	)
	env.seedBackend(t, "private", false,
		models.LiveSession{SessionID: "s3", UserName: "carol", Title: "C", FullTitle: "C"},
	)
	env.sessions.Refresh(context.Background())

	admin := listSessions(t, env, "root")
	if len(admin) != 3 {
		t.Fatalf("admin sees %d sessions, want 3", len(admin))
	}

	viewer := listSessions(t, env, "alice")
	if len(viewer) != 2 {
		t.Fatalf("viewer sees %d sessions, want 2", len(viewer))
	}
	for _, s := range viewer {
		switch s.SessionID {
		case "s1":
			if s.UserName != "alice" {
				t.Errorf("own session masked: %+v", s)
			}
		case "s2":
			if s.UserName != "b**" {
				t.Errorf("expected masked name, got %q", s.UserName)
			}
		default:
			t.Errorf("viewer must not see %q", s.SessionID)
		}
	}
}

func TestListSessionsManagerWithoutGrants(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "mgr", models.RoleManager)
	env.seedBackend(t, "open", true,
		models.LiveSession{SessionID: "s1", UserName: "alice", Title: "A", FullTitle: "A"},
	)
	env.sessions.Refresh(context.Background())

	// Empty result, not an error.
	got := listSessions(t, env, "mgr")
	if len(got) != 0 {
		t.Fatalf("manager without grants sees %+v, want empty list", got)
	}
}

func TestListSessionsManagerWithGrant(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.account(t, "mgr", models.RoleManager)
	b := env.seedBackend(t, "open", false,
		models.LiveSession{SessionID: "s1", UserName: "alice", Title: "A", FullTitle: "A"},
	)
	if err := env.store.GrantBackend(mgr.ID, b.ID); err != nil {
		t.Fatalf("GrantBackend: %v", err)
	}
	env.sessions.Refresh(context.Background())

	got := listSessions(t, env, "mgr")
	if len(got) != 1 || got[0].UserName != "alice" {
		t.Fatalf("manager with grant sees %+v", got)
	}
}

func TestCacheStatus(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "alice", models.RoleViewer)
	env.seedBackend(t, "open", true,
		models.LiveSession{SessionID: "s1", UserName: "alice", Title: "A", FullTitle: "A"},
	)
	env.sessions.Refresh(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/api/cache/status", nil)
	env.authorize(req, "alice")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var status cacheStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Sessions.Count != 1 {
		t.Fatalf("sessions count = %d, want 1", status.Sessions.Count)
	}
	if status.Sessions.LastUpdate.IsZero() {
		t.Error("expected last update set")
	}
}

func TestRefreshAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "root", models.RoleAdmin)
	env.account(t, "alice", models.RoleViewer)
	env.seedBackend(t, "open", true,
		models.LiveSession{SessionID: "s1", UserName: "alice", Title: "A", FullTitle: "A"},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/refresh", nil)
	env.authorize(req, "alice")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer refresh: expected 403, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/cache/refresh", nil)
	env.authorize(req, "root")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin refresh: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if env.sessions.Status().Count != 1 {
		t.Fatal("refresh did not collect")
	}
}
