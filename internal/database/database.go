// Package database implements a small live-settings store backed by
// modernc.org/sqlite, distinct from the persistent event database
// explicitly named as a non-goal in spec §1: this holds only the handful
// of per-camera parameters an operator may want to change and have
// survive a daemon restart (active fps, rest fps, car-alert seconds),
// not an event/detection history.
package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the settings table.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path and ensures
// the settings table exists.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", path, err)
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Get reads a setting, returning ok=false if unset.
func (d *DB) Get(key string) (value string, ok bool, err error) {
	row := d.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	err = row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts a setting.
func (d *DB) Set(key, value string) error {
	_, err := d.conn.Exec(`INSERT INTO settings(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// All returns every stored setting, used to hydrate config at startup.
func (d *DB) All() (map[string]string, error) {
	rows, err := d.conn.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
