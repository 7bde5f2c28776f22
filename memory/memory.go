// Package memory is the sqlite persistence layer: conversation metadata,
// the append-only message log, trips, and upstream API call logs.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("record not found")

const openPingTimeout = 10 * time.Second

// Open opens the sqlite database at path and verifies connectivity,
// retrying transient failures with exponential backoff. Use ":memory:"
// for an in-process database in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(openPingTimeout),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Debug("database opened", "path", path)
	return db, nil
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			user_id    INTEGER NOT NULL,
			title      TEXT NOT NULL,
			model      TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
			ON conversations (user_id, updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations (id),
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			tool_call_id    TEXT NOT NULL DEFAULT '',
			tokens          INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON conversation_messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS trips (
			id             TEXT PRIMARY KEY,
			user_id        INTEGER NOT NULL,
			title          TEXT NOT NULL,
			destination    TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			start_date     TIMESTAMP NOT NULL,
			end_date       TIMESTAMP NOT NULL,
			total_budget   TEXT NOT NULL DEFAULT '0',
			actual_expense TEXT NOT NULL DEFAULT '0',
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_user ON trips (user_id)`,
		`CREATE TABLE IF NOT EXISTS api_logs (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id           INTEGER NOT NULL,
			endpoint          TEXT NOT NULL,
			model             TEXT NOT NULL DEFAULT '',
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens      INTEGER NOT NULL DEFAULT 0,
			response_time_ms  INTEGER NOT NULL DEFAULT 0,
			status_code       INTEGER NOT NULL DEFAULT 0,
			error_message     TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_user_created
			ON api_logs (user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
