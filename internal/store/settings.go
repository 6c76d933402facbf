package store

import (
	"context"
	"database/sql"
	"errors"
)

// Settings is a settings.Store backed by the settings table of the same
// database as the event log.
type Settings struct {
	db *sql.DB
}

// Settings returns the key/value view of the store.
func (s *Store) Settings() *Settings {
	return &Settings{db: s.db}
}

// Load returns the value stored under key. ok is false if the key has
// never been saved.
func (st *Settings) Load(key string) (string, bool, error) {
	var value string
	err := st.db.QueryRowContext(context.Background(),
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("load setting", err)
	}
	return value, true, nil
}

// Save stores value under key, replacing any previous value.
func (st *Settings) Save(key, value string) error {
	_, err := st.db.ExecContext(context.Background(), `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storageErr("save setting", err)
	}
	return nil
}
