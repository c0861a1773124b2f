package storage

import (
	"fmt"
	"time"

	"github.com/user/tunnelguard/internal/model"
)

// SampleStorage handles traffic sample persistence.
type SampleStorage struct {
	db *DB
}

// NewSampleStorage creates a new sample storage handler.
func NewSampleStorage(db *DB) *SampleStorage {
	return &SampleStorage{db: db}
}

// Save stores a traffic sample.
func (s *SampleStorage) Save(sample *model.StatsSample) error {
	query := `INSERT INTO stats_samples
			  (bytes_received, bytes_sent, packets_received, packets_sent,
			   download_speed, upload_speed, duration_ms, timestamp)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.Exec(query,
		sample.BytesReceived, sample.BytesSent,
		sample.PacketsReceived, sample.PacketsSent,
		sample.DownloadSpeed, sample.UploadSpeed,
		sample.ConnectionDuration.Milliseconds(), sample.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}

	if sample.ID == 0 {
		id, _ := result.LastInsertId()
		sample.ID = id
	}

	return nil
}

// GetSince returns samples recorded since a given time, oldest first.
func (s *SampleStorage) GetSince(since time.Time) ([]model.StatsSample, error) {
	query := `SELECT id, bytes_received, bytes_sent, packets_received, packets_sent,
			  download_speed, upload_speed, duration_ms, timestamp
			  FROM stats_samples WHERE timestamp >= ? ORDER BY timestamp`

	rows, err := s.db.Query(query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []model.StatsSample
	for rows.Next() {
		var sm model.StatsSample
		var durationMs int64
		if err := rows.Scan(&sm.ID, &sm.BytesReceived, &sm.BytesSent,
			&sm.PacketsReceived, &sm.PacketsSent,
			&sm.DownloadSpeed, &sm.UploadSpeed,
			&durationMs, &sm.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		sm.ConnectionDuration = time.Duration(durationMs) * time.Millisecond
		samples = append(samples, sm)
	}

	return samples, rows.Err()
}

// PeakSpeeds returns the highest download and upload rates since a given
// time.
func (s *SampleStorage) PeakSpeeds(since time.Time) (download, upload float64, err error) {
	query := `SELECT COALESCE(MAX(download_speed), 0), COALESCE(MAX(upload_speed), 0)
			  FROM stats_samples WHERE timestamp >= ?`

	if err := s.db.QueryRow(query, since).Scan(&download, &upload); err != nil {
		return 0, 0, fmt.Errorf("failed to query peak speeds: %w", err)
	}
	return download, upload, nil
}

// Prune deletes samples older than the given time.
func (s *SampleStorage) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM stats_samples WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return result.RowsAffected()
}
