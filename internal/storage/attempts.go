package storage

import (
	"fmt"
	"time"

	"github.com/user/tunnelguard/internal/model"
)

// AttemptStorage handles reconnection attempt persistence.
type AttemptStorage struct {
	db *DB
}

// NewAttemptStorage creates a new attempt storage handler.
func NewAttemptStorage(db *DB) *AttemptStorage {
	return &AttemptStorage{db: db}
}

// Save stores a reconnection attempt.
func (s *AttemptStorage) Save(attempt *model.ReconnectionAttempt) error {
	query := `INSERT INTO reconnection_attempts (attempt_number, reason, success, timestamp)
			  VALUES (?, ?, ?, ?)`

	result, err := s.db.Exec(query,
		attempt.Number, attempt.Reason, attempt.Success, attempt.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}

	if attempt.ID == 0 {
		id, _ := result.LastInsertId()
		attempt.ID = id
	}

	return nil
}

// GetRecent returns the most recent attempts, newest first.
func (s *AttemptStorage) GetRecent(limit int) ([]model.ReconnectionAttempt, error) {
	query := `SELECT id, attempt_number, reason, success, timestamp
			  FROM reconnection_attempts ORDER BY timestamp DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.ReconnectionAttempt
	for rows.Next() {
		var a model.ReconnectionAttempt
		if err := rows.Scan(&a.ID, &a.Number, &a.Reason, &a.Success, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// CountSince returns attempt and success counts since a given time.
func (s *AttemptStorage) CountSince(since time.Time) (total, succeeded int, err error) {
	query := `SELECT COUNT(*), COALESCE(SUM(success), 0)
			  FROM reconnection_attempts WHERE timestamp >= ?`

	if err := s.db.QueryRow(query, since).Scan(&total, &succeeded); err != nil {
		return 0, 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return total, succeeded, nil
}

// Prune deletes attempts older than the given time.
func (s *AttemptStorage) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM reconnection_attempts WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}
	return result.RowsAffected()
}
