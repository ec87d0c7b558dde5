package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"streamwarden/internal/models"
)

const policyConfigKey = "policy.config"

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// GetPolicyConfig loads the termination policy, falling back to defaults
// (disabled, no enrolled backends) when nothing has been saved.
func (s *Store) GetPolicyConfig() (models.PolicyConfig, error) {
	raw, err := s.GetSetting(policyConfigKey)
	if err != nil {
		return models.PolicyConfig{}, err
	}
	if raw == "" {
		return models.DefaultPolicyConfig(), nil
	}
	var config models.PolicyConfig
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return models.PolicyConfig{}, fmt.Errorf("parsing policy config: %w", err)
	}
	return config, nil
}

func (s *Store) SetPolicyConfig(config models.PolicyConfig) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding policy config: %w", err)
	}
	return s.SetSetting(policyConfigKey, string(raw))
}
