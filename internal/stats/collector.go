// Package stats samples the tunnel engine's traffic counters on a fixed
// interval and derives per-second transfer rates from consecutive
// readings.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/tunnelguard/internal/engine"
	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/history"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/util"
)

const (
	// DefaultInterval is the collection tick period.
	DefaultInterval = time.Second

	// collectRetries bounds counter reads within a single tick.
	collectRetries = 3
	// retryBaseDelay grows linearly per retry within a tick.
	retryBaseDelay = 500 * time.Millisecond

	// smoothingWindow is the number of recent samples averaged for the
	// smoothed rates.
	smoothingWindow = 3

	maxSampleHistory = 10
	maxErrorHistory  = 20

	// failureStreakLimit marks collection unhealthy once this many
	// consecutive ticks fail.
	failureStreakLimit = 5
)

// Engine is the capability the collector needs from the supervisor.
type Engine interface {
	IsRunning() bool
	Uptime() time.Duration
	Counters(ctx context.Context) (engine.Counters, error)
}

// Collector periodically reads cumulative counters and publishes raw and
// smoothed samples. Ticks are skipped entirely while the engine is down;
// previous rates are retained, never extrapolated.
type Collector struct {
	engine   Engine
	emitter  *event.Emitter
	interval time.Duration

	mu       sync.Mutex
	active   bool
	stop     chan struct{}
	current  model.StatsSample
	smoothed model.StatsSample

	prevCounters engine.Counters
	prevAt       time.Time
	prevValid    bool

	failureStreak int
	totalTicks    int64
	failedTicks   int64

	samples *history.Ring[model.StatsSample]
	errors  *history.Ring[model.ErrorRecord]

	loop sync.WaitGroup
}

// NewCollector creates a collector over the given engine. A zero
// interval selects the default one-second tick.
func NewCollector(eng Engine, interval time.Duration, emitter *event.Emitter) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		engine:   eng,
		emitter:  emitter,
		interval: interval,
		samples:  history.NewRing[model.StatsSample](maxSampleHistory),
		errors:   history.NewRing[model.ErrorRecord](maxErrorHistory),
	}
}

// Start launches the collection loop. Idempotent while running.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	util.Info("Stats collection started (interval %s)", c.interval)

	c.loop.Add(1)
	go func() {
		defer c.loop.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.tick(stop)
			}
		}
	}()
}

// Stop halts collection and waits for the loop to exit. Histories and
// the last samples are kept for inspection.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	close(c.stop)
	c.mu.Unlock()

	c.loop.Wait()
	util.Info("Stats collection stopped")
}

// Current returns the most recent raw sample.
func (c *Collector) Current() model.StatsSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Smoothed returns the most recent smoothed sample.
func (c *Collector) Smoothed() model.StatsSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoothed
}

// History returns recorded samples, oldest first.
func (c *Collector) History() []model.StatsSample {
	return c.samples.Items()
}

// Errors returns recorded collection errors, oldest first.
func (c *Collector) Errors() []model.ErrorRecord {
	return c.errors.Items()
}

// Healthy reports whether collection is keeping up. It turns false after
// a run of consecutive failed ticks and recovers on the next success.
func (c *Collector) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureStreak < failureStreakLimit
}

// Counts returns total and failed tick counts since the last reset.
func (c *Collector) Counts() (total, failed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalTicks, c.failedTicks
}

// CollectionHealth reports collector internals for diagnostics.
func (c *Collector) CollectionHealth() map[string]interface{} {
	engineRunning := c.engine.IsRunning()
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"collecting":     c.active,
		"interval":       c.interval.String(),
		"engine_running": engineRunning,
		"sample_count":   c.samples.Len(),
		"error_count":    c.errors.Len(),
		"total_ticks":    c.totalTicks,
		"failed_ticks":   c.failedTicks,
		"failure_streak": c.failureStreak,
	}
}

// Reset clears samples, histories and counters. The loop keeps running
// if active.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.current = model.StatsSample{}
	c.smoothed = model.StatsSample{}
	c.prevValid = false
	c.failureStreak = 0
	c.totalTicks = 0
	c.failedTicks = 0
	c.mu.Unlock()
	c.samples.Clear()
	c.errors.Clear()
	util.Info("Stats collector reset")
}

// tick performs one collection cycle. Exported state is only touched
// under the lock; counter reads happen outside it.
func (c *Collector) tick(stop chan struct{}) {
	c.mu.Lock()
	c.totalTicks++
	c.mu.Unlock()

	if !c.engine.IsRunning() {
		c.mu.Lock()
		wasTracking := c.prevValid
		c.prevValid = false
		c.mu.Unlock()
		if wasTracking {
			c.recordError(model.ErrSingboxNotRunning, "engine stopped; stats collection suspended", 0)
		}
		return
	}

	counters, err := c.readCounters(stop)
	if err != nil {
		c.mu.Lock()
		c.failedTicks++
		c.failureStreak++
		c.mu.Unlock()
		c.recordError(model.ErrMaxRetriesExceeded,
			fmt.Sprintf("counter read failed after %d retries: %v", collectRetries, err), collectRetries)
		return
	}

	c.apply(counters, time.Now())
}

// readCounters retries the counter query within a tick, backing off
// linearly between attempts.
func (c *Collector) readCounters(stop chan struct{}) (engine.Counters, error) {
	var lastErr error
	for attempt := 1; attempt <= collectRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.interval)
		counters, err := c.engine.Counters(ctx)
		cancel()
		if err == nil {
			return counters, nil
		}
		lastErr = err
		c.recordError(model.ErrCollectionFailed,
			fmt.Sprintf("counter read attempt %d/%d: %v", attempt, collectRetries, err), attempt)
		if attempt == collectRetries {
			break
		}
		select {
		case <-stop:
			return engine.Counters{}, lastErr
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}
	return engine.Counters{}, lastErr
}

// apply turns a counter reading into a sample, derives rates against the
// previous reading and publishes the result.
func (c *Collector) apply(counters engine.Counters, now time.Time) {
	if counters.BytesReceived < 0 || counters.BytesSent < 0 {
		c.recordError(model.ErrProcessingError, "engine reported negative counters", 0)
		if counters.BytesReceived < 0 {
			counters.BytesReceived = 0
		}
		if counters.BytesSent < 0 {
			counters.BytesSent = 0
		}
	}

	c.mu.Lock()

	sample := model.StatsSample{
		BytesReceived:      counters.BytesReceived,
		BytesSent:          counters.BytesSent,
		PacketsReceived:    counters.PacketsReceived,
		PacketsSent:        counters.PacketsSent,
		DownloadSpeed:      c.current.DownloadSpeed,
		UploadSpeed:        c.current.UploadSpeed,
		ConnectionDuration: c.engine.Uptime(),
		Timestamp:          now,
	}

	if c.prevValid {
		elapsed := now.Sub(c.prevAt).Seconds()
		if elapsed > 0 {
			sample.DownloadSpeed = rate(counters.BytesReceived, c.prevCounters.BytesReceived, elapsed)
			sample.UploadSpeed = rate(counters.BytesSent, c.prevCounters.BytesSent, elapsed)
		}
	}

	c.prevCounters = counters
	c.prevAt = now
	c.prevValid = true
	c.current = sample
	c.failureStreak = 0
	c.mu.Unlock()

	c.samples.Push(sample)
	smoothed := c.smooth(sample)

	c.mu.Lock()
	c.smoothed = smoothed
	c.mu.Unlock()

	c.emitter.StatsUpdated(sample, smoothed)
}

// rate computes a non-negative per-second rate from a counter delta.
// Counter resets show up as negative deltas and clamp to zero.
func rate(current, previous int64, elapsed float64) float64 {
	delta := current - previous
	if delta < 0 {
		delta = 0
	}
	return float64(delta) / elapsed
}

// smooth averages the transfer rates over the most recent samples. With
// fewer samples than the window, all of them are used.
func (c *Collector) smooth(raw model.StatsSample) model.StatsSample {
	recent := c.samples.Last(smoothingWindow)
	smoothed := raw
	if len(recent) == 0 {
		return smoothed
	}
	var down, up float64
	for _, s := range recent {
		down += s.DownloadSpeed
		up += s.UploadSpeed
	}
	smoothed.DownloadSpeed = down / float64(len(recent))
	smoothed.UploadSpeed = up / float64(len(recent))
	return smoothed
}

func (c *Collector) recordError(kind model.ErrorKind, msg string, retries int) {
	rec := model.ErrorRecord{
		Kind:       kind,
		Message:    msg,
		Timestamp:  time.Now(),
		RetryCount: retries,
	}
	c.errors.Push(rec)
	util.Warn("Stats: %s: %s", kind, msg)
	c.emitter.ProcessError(rec)
}
