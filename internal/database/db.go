// Package database provides SQLite connection management for the engine's
// scenario and result stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Profile selects the durability trade-off for a database.
type Profile string

const (
	// ProfileLedger - maximum safety for the append-only run archive
	ProfileLedger Profile = "ledger"
	// ProfileStandard - balanced configuration for everything else
	ProfileStandard Profile = "standard"
)

// DB wraps a database connection with its configuration.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// Config holds database configuration.
type Config struct {
	Path    string
	Profile Profile
	Name    string // Friendly name for logging (e.g., "scenarios", "runs")
}

// New opens a database connection with WAL mode and profile-specific
// PRAGMAs applied via the connection string.
func New(cfg Config) (*DB, error) {
	// file: URIs (in-memory databases in tests) bypass filesystem setup.
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

// buildConnectionString creates the SQLite connection string with
// profile-specific PRAGMAs.
func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		// Maximum safety - the run archive is append-only
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	case ProfileStandard:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)" // 64MB cache (negative = KB)

	return connStr
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection, used by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name for logging.
func (db *DB) Name() string {
	return db.name
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck pings the database and runs an integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	var integrityResult string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	if integrityResult != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, integrityResult)
	}
	return nil
}

// WALCheckpoint forces a WAL checkpoint to prevent bloat.
func (db *DB) WALCheckpoint(mode string) error {
	// Modes: PASSIVE, FULL, RESTART, TRUNCATE
	if mode == "" {
		mode = "TRUNCATE"
	}
	if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	return nil
}

// WithTransaction executes a function within a database transaction. It
// handles begin, commit, rollback and panic recovery; a returned error or a
// panic rolls the transaction back.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}
