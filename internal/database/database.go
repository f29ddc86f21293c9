package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotQueued is returned when an action needs a QUEUED entry.
	ErrNotQueued = errors.New("schedule entry is not queued")

	// ErrClaimLost is returned when a state update finds the entry no longer
	// claimed by the caller (another run finished it or the lease expired).
	ErrClaimLost = errors.New("schedule entry claim lost")
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02 15:04:05.000000000-07:00"

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS websites (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            name TEXT NOT NULL,
            url TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            logo_url TEXT NOT NULL DEFAULT '',
            primary_color TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS accounts (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            platform TEXT NOT NULL,
            account_name TEXT NOT NULL DEFAULT '',
            account_id TEXT NOT NULL,
            access_token TEXT NOT NULL,
            token_expires_at DATETIME,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS posts (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            website_id TEXT NOT NULL DEFAULT '',
            caption TEXT NOT NULL,
            image_url TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            is_evergreen BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		// Entries are never deleted; they are the publish audit trail.
		`CREATE TABLE IF NOT EXISTS post_schedules (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            post_id TEXT NOT NULL,
            account_id TEXT NOT NULL,
            scheduled_at DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'QUEUED'
                CHECK (status IN ('QUEUED', 'PUBLISHED', 'FAILED', 'CANCELLED')),
            retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
            error_log TEXT NOT NULL DEFAULT '',
            platform_post_id TEXT NOT NULL DEFAULT '',
            published_at DATETIME,
            platform_response TEXT NOT NULL DEFAULT '',
            caption TEXT NOT NULL DEFAULT '',
            next_attempt_at DATETIME,
            claim_token TEXT NOT NULL DEFAULT '',
            claimed_until DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_schedules_status_time ON post_schedules(status, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_user ON post_schedules(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_evergreen ON posts(is_evergreen)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_user_active ON accounts(user_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_websites_user ON websites(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func dbTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func dbTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func newID() string {
	return uuid.NewString()
}

type rowScanner interface {
	Scan(dest ...any) error
}
