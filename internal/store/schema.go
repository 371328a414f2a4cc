package store

import (
	"database/sql"
	"fmt"
)

// Schema for the two tables the messaging core owns. messages carries the
// conversation record; users is the directory the core consumes.
//
// The partial unique index on users(role) makes the "exactly one admin"
// invariant a constraint instead of a convention scattered through
// handlers: a second admin row fails at insert time.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL,
		email      TEXT NOT NULL,
		role       TEXT NOT NULL CHECK (role IN ('user', 'admin')),
		created_at DATETIME NOT NULL,
		last_login DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_single_admin
		ON users (role) WHERE role = 'admin'`,
	`CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		sender_id   TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content     TEXT NOT NULL,
		read        INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_pair
		ON messages (sender_id, receiver_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_unread
		ON messages (receiver_id, read)`,
}

// bootstrapSchema creates tables and indexes if they do not exist yet.
// Idempotent; runs at every startup.
func bootstrapSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

// applySQLitePragmas applies the connection-level tuning the store relies
// on: WAL for concurrent readers alongside the single writer, and a busy
// timeout so readers back off instead of failing during checkpoints.
func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
