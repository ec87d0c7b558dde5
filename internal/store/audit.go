package store

import (
	"context"
	"encoding/json"
	"fmt"

	"streamwarden/internal/models"
)

// RecordAudit appends one entry to the audit trail. Satisfies the policy
// engine's sink interface.
func (s *Store) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]string{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO audit_log (actor, action, target, details) VALUES (?, ?, ?, ?)
		 RETURNING id, created_at`,
		entry.Actor, entry.Action, entry.Target, string(raw),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent entries, newest first.
func (s *Store) ListAudit(limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, actor, action, target, details, created_at FROM audit_log
		 ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var raw string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Details); err != nil {
			return nil, fmt.Errorf("parsing audit details: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
