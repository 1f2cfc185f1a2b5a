package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the SQLite database at path and migrates it
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite serializes writers; a small pool avoids busy contention
	pool := NewConnectionPool(db, 8, 4, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := database.initPreparedStatements(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", path,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS awards (
			id TEXT PRIMARY KEY,
			agency TEXT NOT NULL,
			branch TEXT,
			title TEXT NOT NULL,
			abstract TEXT,
			keywords TEXT, -- JSON array
			topic_code TEXT,
			program TEXT,
			phase TEXT,
			firm TEXT,
			award_date TEXT,
			obligated_amount REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,

		// one row per scoring run; history is never overwritten
		`CREATE TABLE IF NOT EXISTS assessments (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			award_id TEXT NOT NULL,
			primary_category TEXT NOT NULL,
			primary_score REAL NOT NULL,
			band TEXT NOT NULL,
			method TEXT NOT NULL,
			taxonomy_version TEXT NOT NULL,
			model_version TEXT,
			payload TEXT NOT NULL, -- JSON assessment
			scored_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS enrichment_cache (
			award_id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			keywords TEXT, -- JSON array
			source TEXT,
			fetched_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_awards_agency ON awards(agency)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_award ON assessments(award_id, seq DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_primary ON assessments(primary_category)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"upsert_award": `INSERT INTO awards (
			id, agency, branch, title, abstract, keywords, topic_code, program,
			phase, firm, award_date, obligated_amount, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agency = excluded.agency,
			branch = excluded.branch,
			title = excluded.title,
			abstract = excluded.abstract,
			keywords = excluded.keywords,
			topic_code = excluded.topic_code,
			program = excluded.program,
			phase = excluded.phase,
			firm = excluded.firm,
			award_date = excluded.award_date,
			obligated_amount = excluded.obligated_amount,
			updated_at = excluded.updated_at`,

		"get_award": `SELECT id, agency, branch, title, abstract, keywords, topic_code, program,
			phase, firm, award_date, obligated_amount
			FROM awards WHERE id = ?`,

		"insert_assessment": `INSERT INTO assessments (
			id, award_id, primary_category, primary_score, band, method,
			taxonomy_version, model_version, payload, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"latest_assessment": `SELECT id, payload FROM assessments
			WHERE award_id = ? ORDER BY seq DESC LIMIT 1`,

		"assessment_history": `SELECT id, payload FROM assessments
			WHERE award_id = ? ORDER BY seq DESC`,

		"upsert_enrichment": `INSERT INTO enrichment_cache (award_id, description, keywords, source, fetched_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(award_id) DO UPDATE SET
				description = excluded.description,
				keywords = excluded.keywords,
				source = excluded.source,
				fetched_at = excluded.fetched_at`,

		"get_enrichment": `SELECT description, keywords, source, fetched_at
			FROM enrichment_cache WHERE award_id = ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}
	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}
	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Ping checks the connection, for health endpoints
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
