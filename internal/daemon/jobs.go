package daemon

import (
	"context"
	"time"

	"github.com/user/tunnelguard/internal/storage"
	"github.com/user/tunnelguard/internal/util"
)

// retentionPeriod bounds how long persisted history is kept.
const retentionPeriod = 7 * 24 * time.Hour

// registerJobs registers the maintenance jobs with the scheduler.
func (d *Daemon) registerJobs() {
	d.scheduler.AddJob(&Job{
		Name:     "status_write",
		Interval: 10 * time.Second,
		Run:      d.runStatusWrite,
	})

	d.scheduler.AddJob(&Job{
		Name:     "attempt_sync",
		Interval: 30 * time.Second,
		Run:      d.runAttemptSync,
	})

	d.scheduler.AddJob(&Job{
		Name:     "db_prune",
		Interval: time.Hour,
		Run:      d.runPrune,
	})
}

// runStatusWrite publishes the current snapshot to the status file so
// the CLI can report without talking to the daemon process.
func (d *Daemon) runStatusWrite(ctx context.Context) error {
	return WriteStatusFile(d.config.DataDir, d.GetStatus())
}

// runAttemptSync persists reconnection attempts recorded since the last
// sync. The in-memory history is authoritative; the database trails it.
func (d *Daemon) runAttemptSync(ctx context.Context) error {
	attemptStorage := storage.NewAttemptStorage(d.db)

	d.mu.Lock()
	since := d.lastAttemptSync
	d.lastAttemptSync = time.Now()
	d.mu.Unlock()

	saved := 0
	for _, attempt := range d.reconnector.History() {
		if !attempt.Timestamp.After(since) {
			continue
		}
		a := attempt
		if err := attemptStorage.Save(&a); err != nil {
			return err
		}
		saved++
	}

	if saved > 0 {
		util.Debug("Persisted %d reconnection attempt(s)", saved)
	}
	return nil
}

// runPrune drops persisted history past the retention period.
func (d *Daemon) runPrune(ctx context.Context) error {
	cutoff := time.Now().Add(-retentionPeriod)

	attempts, err := storage.NewAttemptStorage(d.db).Prune(cutoff)
	if err != nil {
		return err
	}
	samples, err := storage.NewSampleStorage(d.db).Prune(cutoff)
	if err != nil {
		return err
	}
	errors, err := storage.NewErrorStorage(d.db).Prune(cutoff)
	if err != nil {
		return err
	}

	if attempts+samples+errors > 0 {
		util.Info("Pruned %d attempts, %d samples, %d errors", attempts, samples, errors)
	}
	return nil
}
