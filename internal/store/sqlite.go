package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(ctx context.Context, opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := SQLitePath(dsn); path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SQLitePath returns the file path of a SQLite DSN, or "" for in-memory databases.
func SQLitePath(dsn string) string {
	path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
	if path == ":memory:" {
		return ""
	}
	return path
}

// SaveTurn appends a conversation turn.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn models.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (user_id, message_text, bot_response, message_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.UserID, turn.UserText, turn.BotText, string(turn.Kind), turn.Timestamp.UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveTurn failed", "error", err, "userID", turn.UserID)
		return fmt.Errorf("failed to insert turn for %s: %w", turn.UserID, err)
	}
	slog.Debug("SQLiteStore SaveTurn succeeded", "userID", turn.UserID, "kind", turn.Kind)
	return nil
}

// ListTurns returns the user's newest limit turns, oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, message_text, bot_response, message_type, created_at FROM conversation_turns
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore ListTurns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query turns for %s: %w", userID, err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore ListTurns succeeded", "userID", userID, "count", len(turns))
	return turns, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
