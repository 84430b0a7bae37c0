// Command historyd serves the conversation history store used by LearnRelay.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/LearnRelay/internal/historyapi"
	"github.com/BTreeMap/LearnRelay/internal/lockfile"
	"github.com/BTreeMap/LearnRelay/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for the SQLite history database
	DefaultStateDir = "/var/lib/learnrelay"
	// DefaultDBFileName is the default SQLite history database filename
	DefaultDBFileName = "history.db"
	// LockOwner names the state directory lock
	LockOwner = "historyd"
)

// Config holds environment configuration
type Config struct {
	Addr string
	DSN  string
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	config := loadEnvironmentConfig()
	addr := flag.String("addr", config.Addr, "listen address (overrides $HISTORYD_ADDR)")
	dsn := flag.String("dsn", config.DSN, "history database DSN, PostgreSQL or SQLite path (overrides $HISTORYD_DSN)")
	flag.Parse()
	slog.Debug("flags parsed", "addr", *addr, "dsn_type", store.DetectDSNType(*dsn))

	if err := run(*addr, *dsn); err != nil {
		slog.Error("historyd failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("historyd exited successfully")
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	config := Config{
		Addr: os.Getenv("HISTORYD_ADDR"),
		DSN:  os.Getenv("HISTORYD_DSN"),
	}
	if config.Addr == "" {
		config.Addr = historyapi.DefaultAddr
	}
	if config.DSN == "" {
		config.DSN = filepath.Join(DefaultStateDir, DefaultDBFileName)
		slog.Debug("No HISTORYD_DSN provided, defaulting to SQLite", "sqlite_path", config.DSN)
	}
	return config
}

func run(addr, dsn string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SQLite files are single-writer; keep a second historyd off the same directory.
	if path := store.SQLitePath(dsn); path != "" && store.DetectDSNType(dsn) == store.DSNTypeSQLite {
		lock, err := lockfile.Acquire(filepath.Dir(path), LockOwner)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	return historyapi.NewServer(st, historyapi.WithAddr(addr)).Run(ctx)
}
