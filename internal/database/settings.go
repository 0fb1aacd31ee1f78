package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetSetting retrieves a catalog setting by key. Missing keys return "".
func (r *Router) GetSetting(key string) (string, error) {
	conn, err := r.acquire()
	if err != nil {
		return "", err
	}
	var value string
	err = conn.QueryRow("SELECT value FROM main.settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a catalog setting.
func (r *Router) SetSetting(key, value string) error {
	conn, err := r.acquire()
	if err != nil {
		return err
	}
	_, err = conn.Exec(`
		INSERT INTO main.settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetAllSettings retrieves every catalog setting.
func (r *Router) GetAllSettings(ctx context.Context) (map[string]string, error) {
	conn, err := r.acquire()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, "SELECT key, value FROM main.settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}
	return settings, nil
}
