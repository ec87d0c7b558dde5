package store

import (
	"errors"
	"testing"

	"streamwarden/internal/models"
)

func testBackend() *models.Backend {
	return &models.Backend{
		Name:    "Den",
		Family:  models.FamilyPlex,
		URL:     "http://localhost:32400",
		Enabled: true,
	}
}

func TestCreateBackend(t *testing.T) {
	s := newTestStore(t)

	b := testBackend()
	if err := s.CreateBackend(b, "abc123"); err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if b.ID == 0 {
		t.Fatal("expected ID to be set")
	}
	if b.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestGetBackendNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetBackend(999)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEnabledBackends(t *testing.T) {
	s := newTestStore(t)

	on := testBackend()
	s.CreateBackend(on, "k")
	off := testBackend()
	off.Name = "Attic"
	off.Enabled = false
	s.CreateBackend(off, "k")

	all, err := s.ListBackends()
	if err != nil {
		t.Fatalf("ListBackends: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(all))
	}

	enabled, err := s.ListEnabledBackends()
	if err != nil {
		t.Fatalf("ListEnabledBackends: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "Den" {
		t.Fatalf("expected only the enabled backend, got %+v", enabled)
	}
}

func TestUpdateBackend(t *testing.T) {
	s := newTestStore(t)

	b := testBackend()
	s.CreateBackend(b, "k")

	b.Name = "Living Room"
	b.VisibleToViewers = true
	if err := s.UpdateBackend(b); err != nil {
		t.Fatalf("UpdateBackend: %v", err)
	}

	got, err := s.GetBackend(b.ID)
	if err != nil {
		t.Fatalf("GetBackend: %v", err)
	}
	if got.Name != "Living Room" || !got.VisibleToViewers {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestBackendKeyRoundTripEncrypted(t *testing.T) {
	s := newTestStoreEncrypted(t)

	b := testBackend()
	if err := s.CreateBackend(b, "secret-token"); err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}

	key, err := s.GetBackendKey(b.ID)
	if err != nil {
		t.Fatalf("GetBackendKey: %v", err)
	}
	if key != "secret-token" {
		t.Fatalf("expected decrypted key, got %q", key)
	}

	// The column must not hold the plaintext.
	var stored string
	if err := s.db.QueryRow(`SELECT api_key FROM backends WHERE id = ?`, b.ID).Scan(&stored); err != nil {
		t.Fatalf("reading raw api_key: %v", err)
	}
	if stored == "secret-token" {
		t.Fatal("api_key stored in plaintext despite encryptor")
	}

	if err := s.RotateBackendKey(b.ID, "new-token"); err != nil {
		t.Fatalf("RotateBackendKey: %v", err)
	}
	key, err = s.GetBackendKey(b.ID)
	if err != nil {
		t.Fatalf("GetBackendKey after rotate: %v", err)
	}
	if key != "new-token" {
		t.Fatalf("expected rotated key, got %q", key)
	}
}

func TestDeleteBackendCascadesGrants(t *testing.T) {
	s := newTestStore(t)

	b := testBackend()
	s.CreateBackend(b, "k")
	a, err := s.CreateAccount("mgr", models.RoleManager, "")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.GrantBackend(a.ID, b.ID); err != nil {
		t.Fatalf("GrantBackend: %v", err)
	}

	if err := s.DeleteBackend(b.ID); err != nil {
		t.Fatalf("DeleteBackend: %v", err)
	}
	granted, err := s.GrantedBackends(a.ID)
	if err != nil {
		t.Fatalf("GrantedBackends: %v", err)
	}
	if len(granted) != 0 {
		t.Fatalf("expected grants removed with backend, got %v", granted)
	}

	if err := s.DeleteBackend(b.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
