// Package storage provides SQLite persistence for tunnelguard.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
	mu sync.RWMutex
}

var (
	instance *DB
	once     sync.Once
)

// GetDB returns the singleton database instance.
func GetDB() *DB {
	return instance
}

// Initialize creates and initializes the database.
func Initialize(dataDir string) (*DB, error) {
	var initErr error
	once.Do(func() {
		dbPath := filepath.Join(dataDir, "tunnelguard.db")
		db, err := Open(dbPath)
		if err != nil {
			initErr = err
			return
		}
		instance = db
	})

	return instance, initErr
}

// Open creates a database at the given path. Initialize should be used
// for the shared instance; Open exists for tests and tooling.
func Open(dbPath string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return db, nil
}

func (db *DB) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS reconnection_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_number INTEGER NOT NULL,
			reason TEXT,
			success INTEGER DEFAULT 0,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reconnection_attempts_timestamp ON reconnection_attempts(timestamp)`,

		`CREATE TABLE IF NOT EXISTS stats_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bytes_received INTEGER NOT NULL,
			bytes_sent INTEGER NOT NULL,
			packets_received INTEGER DEFAULT 0,
			packets_sent INTEGER DEFAULT 0,
			download_speed REAL DEFAULT 0,
			upload_speed REAL DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stats_samples_timestamp ON stats_samples(timestamp)`,

		`CREATE TABLE IF NOT EXISTS process_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			message TEXT,
			retry_count INTEGER DEFAULT 0,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_process_errors_timestamp ON process_errors(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_process_errors_kind ON process_errors(kind)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", table, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// WithLock executes a function with write lock.
func (db *DB) WithLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn()
}

// WithRLock executes a function with read lock.
func (db *DB) WithRLock(fn func() error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn()
}
