// Package store provides storage backends for conversation history and webhook event deduplication.
//
// SQLite and PostgreSQL backends share embedded goose migrations; InMemoryStore serves
// tests and deployments without a database.
package store

import (
	"context"
	"strings"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite"
)

// Store persists conversation turns and webhook event IDs.
type Store interface {
	EventLog
	// SaveTurn appends a turn to the user's history.
	SaveTurn(ctx context.Context, turn models.ConversationTurn) error
	// ListTurns returns the user's newest limit turns, oldest first.
	ListTurns(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error)
	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports whether dsn addresses PostgreSQL or a SQLite file.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Open creates the backend matching the DSN, or an InMemoryStore when dsn is empty.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == DSNTypePostgres {
		return NewPostgresStore(ctx, WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(ctx, WithSQLiteDSN(dsn))
}
