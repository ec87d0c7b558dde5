package store

import (
	"fmt"
)

// GrantBackend gives a manager-scoped account access to a backend.
// Granting twice is a no-op.
func (s *Store) GrantBackend(accountID, backendID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO grants (account_id, backend_id) VALUES (?, ?)
		 ON CONFLICT(account_id, backend_id) DO NOTHING`,
		accountID, backendID,
	)
	if err != nil {
		return fmt.Errorf("granting backend: %w", err)
	}
	return nil
}

func (s *Store) RevokeBackend(accountID, backendID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM grants WHERE account_id = ? AND backend_id = ?`,
		accountID, backendID,
	)
	if err != nil {
		return fmt.Errorf("revoking backend: %w", err)
	}
	return nil
}

// GrantedBackends returns the backend set an account has been granted,
// in the form the cache filter consumes.
func (s *Store) GrantedBackends(accountID int64) (map[int64]struct{}, error) {
	rows, err := s.db.Query(`SELECT backend_id FROM grants WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	granted := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		granted[id] = struct{}{}
	}
	return granted, rows.Err()
}
