package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("database: not found")

// Config selects the database backend
type Config struct {
	Type string // "sqlite" or "postgres"
	DSN  string // file path for sqlite, connection string for postgres
}

// DefaultSQLitePath is used when Type is sqlite and DSN is empty
const DefaultSQLitePath = "data/kotoba.db"

// Connect opens the database and creates the schema
func Connect(cfg Config) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch strings.ToLower(cfg.Type) {
	case "", "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		if !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		db, err = sqlx.Connect("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for postgres")
		}
		db, err = sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("Connected to %s database", db.DriverName())
	return db, nil
}

func isPostgres(db *sqlx.DB) bool {
	return db.DriverName() == "postgres"
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema(db *sqlx.DB) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if isPostgres(db) {
		id = "BIGSERIAL PRIMARY KEY"
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"cards", `
			CREATE TABLE IF NOT EXISTS cards (
				id ` + id + `,
				front TEXT NOT NULL UNIQUE,
				back TEXT NOT NULL,
				reading TEXT NOT NULL DEFAULT '',
				jlpt_level TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`},
		{"review_states", `
			CREATE TABLE IF NOT EXISTS review_states (
				user_id BIGINT NOT NULL,
				card_id BIGINT NOT NULL REFERENCES cards(id),
				ease_factor REAL NOT NULL DEFAULT 2.5,
				interval_days INTEGER NOT NULL DEFAULT 1,
				repetitions INTEGER NOT NULL DEFAULT 0,
				next_review_at TIMESTAMP NOT NULL,
				last_reviewed_at TIMESTAMP,
				PRIMARY KEY (user_id, card_id)
			)`},
		{"batch_jobs", `
			CREATE TABLE IF NOT EXISTS batch_jobs (
				id TEXT PRIMARY KEY,
				owner BIGINT NOT NULL DEFAULT 0,
				provider TEXT NOT NULL,
				input_ref TEXT NOT NULL,
				output_ref TEXT,
				status TEXT NOT NULL,
				total_rows INTEGER NOT NULL DEFAULT 0,
				processed_rows INTEGER NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`},
		{"user_configs", `
			CREATE TABLE IF NOT EXISTS user_configs (
				user_id BIGINT PRIMARY KEY,
				provider TEXT NOT NULL DEFAULT '',
				reminders_enabled BOOLEAN NOT NULL DEFAULT TRUE,
				updated_at TIMESTAMP NOT NULL
			)`},
	}

	for _, t := range tables {
		if _, err := db.Exec(t.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_review_states_due ON review_states (user_id, next_review_at)`); err != nil {
		return fmt.Errorf("failed to create review_states index: %w", err)
	}
	return nil
}
