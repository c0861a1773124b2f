package storage

import (
	"fmt"
	"time"

	"github.com/user/tunnelguard/internal/model"
)

// ErrorStorage handles process error persistence.
type ErrorStorage struct {
	db *DB
}

// NewErrorStorage creates a new error storage handler.
func NewErrorStorage(db *DB) *ErrorStorage {
	return &ErrorStorage{db: db}
}

// Save stores an error record.
func (s *ErrorStorage) Save(rec *model.ErrorRecord) error {
	query := `INSERT INTO process_errors (kind, message, retry_count, timestamp)
			  VALUES (?, ?, ?, ?)`

	result, err := s.db.Exec(query,
		rec.Kind.String(), rec.Message, rec.RetryCount, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save error record: %w", err)
	}

	if rec.ID == 0 {
		id, _ := result.LastInsertId()
		rec.ID = id
	}

	return nil
}

// GetRecent returns the most recent error records, newest first.
func (s *ErrorStorage) GetRecent(limit int) ([]model.ErrorRecord, error) {
	query := `SELECT id, kind, message, retry_count, timestamp
			  FROM process_errors ORDER BY timestamp DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	defer rows.Close()

	var records []model.ErrorRecord
	for rows.Next() {
		var rec model.ErrorRecord
		var kind string
		if err := rows.Scan(&rec.ID, &kind, &rec.Message, &rec.RetryCount, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		rec.Kind = model.ParseErrorKind(kind)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountByKind returns error counts per kind since a given time.
func (s *ErrorStorage) CountByKind(since time.Time) (map[string]int, error) {
	query := `SELECT kind, COUNT(*) FROM process_errors
			  WHERE timestamp >= ? GROUP BY kind`

	rows, err := s.db.Query(query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count errors: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan error count: %w", err)
		}
		counts[kind] = n
	}

	return counts, rows.Err()
}

// Prune deletes error records older than the given time.
func (s *ErrorStorage) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM process_errors WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune errors: %w", err)
	}
	return result.RowsAffected()
}
