// Package storage implements the store interfaces on SQL databases
// (SQLite and MySQL).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// NormalizeDriver maps accepted aliases onto a driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "mysql":
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", driver)
	}
}

// Open connects to the database. MySQL DSNs must enable parseTime.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	driver, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must be provided", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// Every connection to ":memory:" is a separate database.
		if strings.Contains(dsn, ":memory:") {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	driver, err := NormalizeDriver(driver)
	if err != nil {
		return err
	}

	var stmts []string
	switch driver {
	case DriverSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversation_turns (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				domain_id TEXT NOT NULL DEFAULT '',
				event_id TEXT NOT NULL DEFAULT '',
				user_message TEXT NOT NULL,
				assistant_response TEXT NOT NULL,
				model TEXT NOT NULL DEFAULT '',
				temperature REAL,
				prompt_tokens INTEGER,
				completion_tokens INTEGER,
				total_tokens INTEGER,
				guardrail_action TEXT NOT NULL,
				guardrail_reason TEXT NOT NULL,
				quick_replies TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_turns_conversation_created ON conversation_turns(conversation_id, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS user_profiles (
				user_id TEXT PRIMARY KEY,
				language TEXT NOT NULL,
				tone TEXT NOT NULL,
				verbosity TEXT NOT NULL,
				emoji_preference TEXT NOT NULL,
				style_notes TEXT NOT NULL DEFAULT '',
				current_objective TEXT NOT NULL DEFAULT '',
				preferred_format TEXT NOT NULL DEFAULT '',
				response_speed TEXT NOT NULL DEFAULT '',
				past_decisions TEXT NOT NULL DEFAULT '[]',
				updated_at DATETIME NOT NULL,
				version INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS allowed_domains (
				keyword TEXT PRIMARY KEY,
				category TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_domains_active ON allowed_domains(active)`,
		}
	case DriverMySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversation_turns (
				id VARCHAR(64) NOT NULL,
				conversation_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(191) NOT NULL,
				domain_id VARCHAR(191) NOT NULL DEFAULT '',
				event_id VARCHAR(191) NOT NULL DEFAULT '',
				user_message TEXT NOT NULL,
				assistant_response MEDIUMTEXT NOT NULL,
				model VARCHAR(100) NOT NULL DEFAULT '',
				temperature DOUBLE NULL,
				prompt_tokens INT NULL,
				completion_tokens INT NULL,
				total_tokens INT NULL,
				guardrail_action VARCHAR(20) NOT NULL,
				guardrail_reason VARCHAR(20) NOT NULL,
				quick_replies TEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_turns_conversation_created (conversation_id, created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_profiles (
				user_id VARCHAR(191) NOT NULL,
				language VARCHAR(20) NOT NULL,
				tone VARCHAR(20) NOT NULL,
				verbosity VARCHAR(20) NOT NULL,
				emoji_preference VARCHAR(20) NOT NULL,
				style_notes VARCHAR(500) NOT NULL DEFAULT '',
				current_objective TEXT NOT NULL,
				preferred_format VARCHAR(20) NOT NULL DEFAULT '',
				response_speed VARCHAR(20) NOT NULL DEFAULT '',
				past_decisions TEXT NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				version BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (user_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS allowed_domains (
				keyword VARCHAR(191) NOT NULL,
				category VARCHAR(100) NOT NULL DEFAULT '',
				description VARCHAR(500) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (keyword),
				INDEX idx_domains_active (active)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// isDuplicate reports whether err is a unique or primary key violation.
func isDuplicate(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
