package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(ctx context.Context, opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if err := migrate(ctx, db, goose.DialectPostgres, "migrations/postgres"); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveTurn appends a conversation turn.
func (s *PostgresStore) SaveTurn(ctx context.Context, turn models.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (user_id, message_text, bot_response, message_type, created_at) VALUES ($1, $2, $3, $4, $5)`,
		turn.UserID, turn.UserText, turn.BotText, string(turn.Kind), turn.Timestamp,
	)
	if err != nil {
		slog.Error("PostgresStore SaveTurn failed", "error", err, "userID", turn.UserID)
		return fmt.Errorf("failed to insert turn for %s: %w", turn.UserID, err)
	}
	return nil
}

// ListTurns returns the user's newest limit turns, oldest first.
func (s *PostgresStore) ListTurns(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, message_text, bot_response, message_type, created_at FROM conversation_turns
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		slog.Error("PostgresStore ListTurns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query turns for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
