package daemon

import (
	"sync"

	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/storage"
	"github.com/user/tunnelguard/internal/util"
)

// sampleWriteEvery throttles sample persistence: collection ticks every
// second but the database only needs a coarse record.
const sampleWriteEvery = 10

// storageSink persists the event stream. Errors are written as they
// arrive; samples are downsampled first.
type storageSink struct {
	samples *storage.SampleStorage
	errors  *storage.ErrorStorage

	mu    sync.Mutex
	ticks int
}

func newStorageSink(db *storage.DB) *storageSink {
	return &storageSink{
		samples: storage.NewSampleStorage(db),
		errors:  storage.NewErrorStorage(db),
	}
}

// NetworkStateChanged implements event.Sink.
func (s *storageSink) NetworkStateChanged(state model.NetworkState) {}

// ConnectionHealthChanged implements event.Sink.
func (s *storageSink) ConnectionHealthChanged(health model.ConnectionHealth) {}

// ReconnectionStatusChanged implements event.Sink. Attempts are synced
// to the database by the attempt_sync job, not here.
func (s *storageSink) ReconnectionStatusChanged(status model.ReconnectionStatus, attempt int) {}

// StatsUpdated implements event.Sink.
func (s *storageSink) StatsUpdated(raw, smoothed model.StatsSample) {
	s.mu.Lock()
	s.ticks++
	due := s.ticks%sampleWriteEvery == 0
	s.mu.Unlock()
	if !due {
		return
	}

	sample := raw
	if err := s.samples.Save(&sample); err != nil {
		util.Warn("Failed to persist sample: %v", err)
	}
}

// ProcessError implements event.Sink.
func (s *storageSink) ProcessError(rec model.ErrorRecord) {
	r := rec
	if err := s.errors.Save(&r); err != nil {
		util.Warn("Failed to persist error record: %v", err)
	}
}
