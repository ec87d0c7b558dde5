package store

import (
	"context"
	"testing"

	"streamwarden/internal/models"
)

func TestRecordAndListAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &models.AuditEntry{
		Actor:  "system",
		Action: "session.terminate",
		Target: "den/s1",
		Details: map[string]string{
			"source_resolution": "4K",
			"stream_resolution": "1080p",
		},
	}
	if err := s.RecordAudit(ctx, entry); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}
	if entry.ID == 0 || entry.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp set: %+v", entry)
	}

	second := &models.AuditEntry{Actor: "system", Action: "session.terminate", Target: "den/s2"}
	if err := s.RecordAudit(ctx, second); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	entries, err := s.ListAudit(10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Target != "den/s2" {
		t.Errorf("expected newest first, got %+v", entries[0])
	}
	if entries[1].Details["source_resolution"] != "4K" {
		t.Errorf("details lost: %+v", entries[1])
	}
}

func TestListAuditLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.RecordAudit(ctx, &models.AuditEntry{Actor: "system", Action: "a", Target: "t"})
	}
	entries, err := s.ListAudit(3)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}
