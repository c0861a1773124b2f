package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/tunnelguard/internal/engine"
	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/model"
)

type fakeEngine struct {
	mu       sync.Mutex
	running  bool
	counters engine.Counters
	err      error
	reads    int
	started  time.Time
}

func (f *fakeEngine) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeEngine) Uptime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started.IsZero() {
		return 0
	}
	return time.Since(f.started)
}

func (f *fakeEngine) Counters(ctx context.Context) (engine.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.counters, f.err
}

func (f *fakeEngine) set(c engine.Counters) {
	f.mu.Lock()
	f.counters = c
	f.mu.Unlock()
}

func newTestCollector(eng Engine) *Collector {
	return NewCollector(eng, time.Second, event.NewEmitter())
}

func TestRatesFromCounterDeltas(t *testing.T) {
	eng := &fakeEngine{running: true, started: time.Now()}
	c := newTestCollector(eng)

	base := time.Now()
	c.apply(engine.Counters{BytesReceived: 1000, BytesSent: 100}, base)
	c.apply(engine.Counters{BytesReceived: 2000, BytesSent: 300}, base.Add(time.Second))
	c.apply(engine.Counters{BytesReceived: 4000, BytesSent: 700}, base.Add(2*time.Second))

	hist := c.History()
	require.Len(t, hist, 3)

	// First reading has no predecessor, so rates stay at zero.
	assert.Equal(t, 0.0, hist[0].DownloadSpeed)
	assert.Equal(t, 0.0, hist[0].UploadSpeed)

	assert.InDelta(t, 1000.0, hist[1].DownloadSpeed, 0.01)
	assert.InDelta(t, 200.0, hist[1].UploadSpeed, 0.01)
	assert.InDelta(t, 2000.0, hist[2].DownloadSpeed, 0.01)
	assert.InDelta(t, 400.0, hist[2].UploadSpeed, 0.01)

	assert.Equal(t, int64(4000), c.Current().BytesReceived)
}

func TestCounterResetClampsRateToZero(t *testing.T) {
	c := newTestCollector(&fakeEngine{running: true})

	base := time.Now()
	c.apply(engine.Counters{BytesReceived: 5000}, base)
	c.apply(engine.Counters{BytesReceived: 100}, base.Add(time.Second))

	assert.Equal(t, 0.0, c.Current().DownloadSpeed, "counter reset must not produce a negative rate")
}

func TestZeroElapsedRetainsPreviousRates(t *testing.T) {
	c := newTestCollector(&fakeEngine{running: true})

	base := time.Now()
	c.apply(engine.Counters{BytesReceived: 1000}, base)
	c.apply(engine.Counters{BytesReceived: 2000}, base.Add(time.Second))
	require.InDelta(t, 1000.0, c.Current().DownloadSpeed, 0.01)

	// Same timestamp again: the delta is undefined, keep the old rate.
	c.apply(engine.Counters{BytesReceived: 9000}, base.Add(time.Second))
	assert.InDelta(t, 1000.0, c.Current().DownloadSpeed, 0.01)
}

func TestSmoothedRatesAverageRecentSamples(t *testing.T) {
	c := newTestCollector(&fakeEngine{running: true})

	base := time.Now()
	c.apply(engine.Counters{BytesReceived: 0}, base)
	c.apply(engine.Counters{BytesReceived: 1000}, base.Add(time.Second))
	c.apply(engine.Counters{BytesReceived: 3000}, base.Add(2*time.Second))
	c.apply(engine.Counters{BytesReceived: 6000}, base.Add(3*time.Second))

	// Last three raw rates are 1000, 2000 and 3000 B/s.
	assert.InDelta(t, 2000.0, c.Smoothed().DownloadSpeed, 0.01)
}

func TestSmoothingWithFewerSamplesThanWindow(t *testing.T) {
	c := newTestCollector(&fakeEngine{running: true})

	base := time.Now()
	c.apply(engine.Counters{BytesReceived: 0}, base)
	c.apply(engine.Counters{BytesReceived: 2000}, base.Add(time.Second))

	// Two samples with rates 0 and 2000.
	assert.InDelta(t, 1000.0, c.Smoothed().DownloadSpeed, 0.01)
}

func TestSampleHistoryBounded(t *testing.T) {
	c := newTestCollector(&fakeEngine{running: true})

	base := time.Now()
	for i := 0; i < maxSampleHistory+7; i++ {
		c.apply(engine.Counters{BytesReceived: int64(i) * 100}, base.Add(time.Duration(i)*time.Second))
	}

	hist := c.History()
	assert.Len(t, hist, maxSampleHistory)
	assert.Equal(t, int64((maxSampleHistory+6)*100), hist[len(hist)-1].BytesReceived)
}

func TestTickSkippedWhileEngineDown(t *testing.T) {
	eng := &fakeEngine{running: false}
	c := newTestCollector(eng)

	c.tick(nil)
	c.tick(nil)

	assert.Empty(t, c.History())
	assert.Empty(t, c.Errors(), "no tracking yet, nothing to report")
	assert.Equal(t, 0, eng.reads)
}

func TestEngineStopRecordedOnce(t *testing.T) {
	eng := &fakeEngine{running: true}
	c := newTestCollector(eng)

	c.tick(nil)
	require.Len(t, c.History(), 1)

	eng.mu.Lock()
	eng.running = false
	eng.mu.Unlock()

	c.tick(nil)
	c.tick(nil)

	errs := c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, model.ErrSingboxNotRunning, errs[0].Kind)
}

func TestRetryLadderThenGiveUp(t *testing.T) {
	eng := &fakeEngine{running: true, err: errors.New("endpoint down")}
	c := newTestCollector(eng)

	c.tick(nil)

	assert.Equal(t, collectRetries, eng.reads)
	errs := c.Errors()
	require.Len(t, errs, collectRetries+1)
	for i := 0; i < collectRetries; i++ {
		assert.Equal(t, model.ErrCollectionFailed, errs[i].Kind)
		assert.Equal(t, i+1, errs[i].RetryCount, "each record carries its attempt number")
	}
	assert.Equal(t, model.ErrMaxRetriesExceeded, errs[collectRetries].Kind)
	assert.Equal(t, collectRetries, errs[collectRetries].RetryCount)

	total, failed := c.Counts()
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), failed)
	assert.Empty(t, c.History())
}

func TestHealthyTracksFailureStreak(t *testing.T) {
	eng := &fakeEngine{running: true, err: errors.New("flaky")}
	c := newTestCollector(eng)

	for i := 0; i < failureStreakLimit; i++ {
		require.True(t, c.Healthy())
		c.tick(nil)
	}
	assert.False(t, c.Healthy())

	// One good tick recovers.
	eng.mu.Lock()
	eng.err = nil
	eng.mu.Unlock()
	c.tick(nil)
	assert.True(t, c.Healthy())
}

func TestResetClearsState(t *testing.T) {
	c := newTestCollector(&fakeEngine{running: true})

	base := time.Now()
	c.apply(engine.Counters{BytesReceived: 1000}, base)
	c.apply(engine.Counters{BytesReceived: 2000}, base.Add(time.Second))
	require.NotEmpty(t, c.History())

	c.Reset()

	assert.Empty(t, c.History())
	assert.Empty(t, c.Errors())
	assert.Equal(t, model.StatsSample{}, c.Current())
	total, failed := c.Counts()
	assert.Zero(t, total)
	assert.Zero(t, failed)

	// The next reading starts a fresh delta chain.
	c.apply(engine.Counters{BytesReceived: 9000}, base.Add(2*time.Second))
	assert.Equal(t, 0.0, c.Current().DownloadSpeed)
}

func TestCollectorLoopPublishesSamples(t *testing.T) {
	eng := &fakeEngine{running: true, started: time.Now()}

	var mu sync.Mutex
	var published int
	em := event.NewEmitter()
	em.Register(event.Funcs{
		OnStats: func(raw, smoothed model.StatsSample) {
			mu.Lock()
			published++
			mu.Unlock()
		},
	})

	c := NewCollector(eng, 20*time.Millisecond, em)
	c.Start()
	defer c.Stop()

	go func() {
		for i := int64(1); i <= 50; i++ {
			eng.set(engine.Counters{BytesReceived: i * 1000, BytesSent: i * 100})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return published >= 3
	}, 5*time.Second, 10*time.Millisecond)

	assert.Greater(t, c.Current().BytesReceived, int64(0))
	assert.Greater(t, c.Current().ConnectionDuration, time.Duration(0))
}

func TestCollectionHealthSnapshot(t *testing.T) {
	eng := &fakeEngine{running: true, started: time.Now()}
	c := newTestCollector(eng)

	base := time.Now()
	c.apply(engine.Counters{BytesReceived: 1000, BytesSent: 100}, base)
	c.apply(engine.Counters{BytesReceived: 2000, BytesSent: 200}, base.Add(time.Second))

	h := c.CollectionHealth()
	assert.Equal(t, false, h["collecting"])
	assert.Equal(t, true, h["engine_running"])
	assert.Equal(t, 2, h["sample_count"])
	assert.Equal(t, 0, h["error_count"])
	assert.Equal(t, 0, h["failure_streak"])
}
