package store

import (
	"database/sql"
	"errors"
	"fmt"

	"streamwarden/internal/models"
)

const backendColumns = `id, name, family, url, enabled, owner_id, visible_to_viewers, created_at, updated_at`

func scanBackend(scanner interface{ Scan(...any) error }) (models.Backend, error) {
	var b models.Backend
	err := scanner.Scan(&b.ID, &b.Name, &b.Family, &b.URL, &b.Enabled, &b.OwnerID, &b.VisibleToViewers, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// CreateBackend inserts a backend; apiKey is encrypted at rest and never
// loaded back into the Backend struct.
func (s *Store) CreateBackend(b *models.Backend, apiKey string) error {
	stored, err := s.sealKey(apiKey)
	if err != nil {
		return err
	}
	created, err := scanBackend(s.db.QueryRow(
		`INSERT INTO backends (name, family, url, api_key, enabled, owner_id, visible_to_viewers)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING `+backendColumns,
		b.Name, b.Family, b.URL, stored, b.Enabled, b.OwnerID, b.VisibleToViewers,
	))
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}
	*b = created
	return nil
}

func (s *Store) GetBackend(id int64) (*models.Backend, error) {
	b, err := scanBackend(s.db.QueryRow(
		`SELECT `+backendColumns+` FROM backends WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backend %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting backend: %w", err)
	}
	return &b, nil
}

func (s *Store) ListBackends() ([]models.Backend, error) {
	return s.listBackends(`SELECT ` + backendColumns + ` FROM backends ORDER BY id`)
}

// ListEnabledBackends returns the backends the collectors poll.
func (s *Store) ListEnabledBackends() ([]models.Backend, error) {
	return s.listBackends(`SELECT ` + backendColumns + ` FROM backends WHERE enabled = 1 ORDER BY id`)
}

func (s *Store) listBackends(query string) ([]models.Backend, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("listing backends: %w", err)
	}
	defer rows.Close()

	backends := []models.Backend{}
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, rows.Err()
}

func (s *Store) UpdateBackend(b *models.Backend) error {
	updated, err := scanBackend(s.db.QueryRow(
		`UPDATE backends SET name = ?, family = ?, url = ?, enabled = ?, visible_to_viewers = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? RETURNING `+backendColumns,
		b.Name, b.Family, b.URL, b.Enabled, b.VisibleToViewers, b.ID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("backend %d: %w", b.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("updating backend: %w", err)
	}
	*b = updated
	return nil
}

// RotateBackendKey replaces a backend's stored credential.
func (s *Store) RotateBackendKey(id int64, apiKey string) error {
	stored, err := s.sealKey(apiKey)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE backends SET api_key = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		stored, id,
	)
	if err != nil {
		return fmt.Errorf("rotating backend key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("backend %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// GetBackendKey decrypts a backend's credential for provider construction.
// The plaintext must not outlive the provider being built.
func (s *Store) GetBackendKey(id int64) (string, error) {
	var stored string
	err := s.db.QueryRow(`SELECT api_key FROM backends WHERE id = ?`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("backend %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting backend key: %w", err)
	}
	if s.encryptor == nil || stored == "" {
		return stored, nil
	}
	plain, err := s.encryptor.Open(stored)
	if err != nil {
		return "", fmt.Errorf("decrypting backend key: %w", err)
	}
	return plain, nil
}

func (s *Store) DeleteBackend(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("deleting backend: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM grants WHERE backend_id = ?`, id); err != nil {
		return fmt.Errorf("deleting backend grants: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM backends WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting backend: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("backend %d: %w", id, models.ErrNotFound)
	}
	return tx.Commit()
}

func (s *Store) sealKey(apiKey string) (string, error) {
	if s.encryptor == nil || apiKey == "" {
		return apiKey, nil
	}
	sealed, err := s.encryptor.Seal(apiKey)
	if err != nil {
		return "", fmt.Errorf("encrypting backend key: %w", err)
	}
	return sealed, nil
}
