package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("history store is closed")

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the history database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS uploads (
		path TEXT PRIMARY KEY,
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		status TEXT NOT NULL,
		bytes INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
	CREATE INDEX IF NOT EXISTS idx_uploads_updated_at ON uploads(updated_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// RecordOutcome saves the outcome for record.Path, incrementing attempts
func (s *SQLiteStore) RecordOutcome(record *Record) error {
	if s.closed.Load() {
		return ErrClosed
	}

	// Serialize writes to avoid SQLITE_BUSY from concurrent completions
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record.UpdatedAt = time.Now().UTC()

	return s.retryOnBusy(func() error {
		query := `
		INSERT INTO uploads (path, bucket, key, status, bytes, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			bucket = excluded.bucket,
			key = excluded.key,
			status = excluded.status,
			bytes = excluded.bytes,
			attempts = uploads.attempts + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		`

		_, err := s.db.Exec(query,
			record.Path,
			record.Bucket,
			record.Key,
			record.Status,
			record.Bytes,
			nullString(record.LastError),
			record.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert upload record: %w", err)
		}
		return nil
	})
}

// Get retrieves the record for path, or nil if none exists
func (s *SQLiteStore) Get(path string) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	row := s.db.QueryRow(`
	SELECT path, bucket, key, status, bytes, attempts, last_error, updated_at
	FROM uploads WHERE path = ?
	`, path)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// List returns records with the given status (all if empty), newest first
func (s *SQLiteStore) List(status Status, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `SELECT path, bucket, key, status, bytes, attempts, last_error, updated_at FROM uploads`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var lastError sql.NullString

	err := row.Scan(
		&record.Path,
		&record.Bucket,
		&record.Key,
		&record.Status,
		&record.Bytes,
		&record.Attempts,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		record.LastError = lastError.String
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 5
	baseDelay := 20 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	return err
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
