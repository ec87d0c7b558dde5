package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"streamwarden/internal/models"
)

const accountColumns = `id, name, role, created_at`

func scanAccount(scanner interface{ Scan(...any) error }) (models.Account, error) {
	var a models.Account
	err := scanner.Scan(&a.ID, &a.Name, &a.Role, &a.CreatedAt)
	return a, err
}

func (s *Store) CreateAccount(name string, role models.Role, passwordHash string) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRow(
		`INSERT INTO accounts (name, role, password_hash) VALUES (?, ?, ?) RETURNING `+accountColumns,
		name, role, passwordHash,
	))
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return &a, nil
}

// GetAccountByName returns the account and its password hash for login.
func (s *Store) GetAccountByName(name string) (*models.Account, string, error) {
	var a models.Account
	var hash sql.NullString
	err := s.db.QueryRow(
		`SELECT id, name, role, created_at, password_hash FROM accounts WHERE name = ?`, name,
	).Scan(&a.ID, &a.Name, &a.Role, &a.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("account %q: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting account: %w", err)
	}
	return &a, hash.String, nil
}

func (s *Store) GetAccount(id int64) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRow(
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAccounts() ([]models.Account, error) {
	rows, err := s.db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) UpdateAccountRole(id int64, role models.Role) error {
	result, err := s.db.Exec(`UPDATE accounts SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("updating account role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdatePassword(id int64, passwordHash string) error {
	result, err := s.db.Exec(`UPDATE accounts SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteAccount(id int64) error {
	result, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// SetupRequired reports whether no accounts exist yet; the first created
// account becomes the admin.
func (s *Store) SetupRequired() (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return false, fmt.Errorf("counting accounts: %w", err)
	}
	return count == 0, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *Store) CreateToken(accountID int64, expiresAt time.Time) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO tokens (id, account_id, expires_at) VALUES (?, ?, ?)`,
		token, accountID, expiresAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("creating token: %w", err)
	}
	return token, nil
}

func (s *Store) GetTokenAccount(token string) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRow(
		`SELECT a.id, a.name, a.role, a.created_at FROM accounts a
		 INNER JOIN tokens t ON t.account_id = a.id
		 WHERE t.id = ? AND t.expires_at > ?`,
		token, time.Now().UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting token account: %w", err)
	}
	return &a, nil
}

func (s *Store) DeleteToken(token string) error {
	_, err := s.db.Exec(`DELETE FROM tokens WHERE id = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredTokens() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return result.RowsAffected()
}
