package reconnect

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/model"
)

type fakeTarget struct {
	mu         sync.Mutex
	running    bool
	startOK    bool
	startCalls int
}

func (f *fakeTarget) Start(configJSON string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.running = f.startOK
	return f.startOK
}

func (f *fakeTarget) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTarget) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

type statusRecorder struct {
	mu     sync.Mutex
	events []model.ReconnectionStatus
}

func (r *statusRecorder) sink() event.Sink {
	return event.Funcs{
		OnReconnection: func(s model.ReconnectionStatus, attempt int) {
			r.mu.Lock()
			r.events = append(r.events, s)
			r.mu.Unlock()
		},
	}
}

func (r *statusRecorder) snapshot() []model.ReconnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ReconnectionStatus, len(r.events))
	copy(out, r.events)
	return out
}

func newTestEngine(t *testing.T, target Target, policy Policy) (*Engine, *statusRecorder) {
	t.Helper()
	rec := &statusRecorder{}
	em := event.NewEmitter()
	em.Register(rec.sink())
	e := NewEngine(target, policy, em)
	e.Start(`{"inbounds": [], "outbounds": []}`)
	t.Cleanup(e.Stop)
	return e, rec
}

func TestBackoffDelaySchedule(t *testing.T) {
	e, _ := newTestEngine(t, &fakeTarget{}, Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	})

	assert.Equal(t, time.Second, e.BackoffDelay(1))
	assert.Equal(t, 2*time.Second, e.BackoffDelay(2))
	assert.Equal(t, 4*time.Second, e.BackoffDelay(3))

	// Non-decreasing in attempt number.
	prev := time.Duration(0)
	for k := 1; k <= 12; k++ {
		d := e.BackoffDelay(k)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	e, _ := newTestEngine(t, &fakeTarget{}, Policy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   10.0,
	})

	assert.Equal(t, time.Second, e.BackoffDelay(1))
	assert.Equal(t, 5*time.Second, e.BackoffDelay(2))
	assert.Equal(t, 5*time.Second, e.BackoffDelay(9))
}

func TestPipelineFailsAfterMaxAttempts(t *testing.T) {
	target := &fakeTarget{startOK: false}
	e, _ := newTestEngine(t, target, Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	})

	e.Schedule("health check failed")

	require.Eventually(t, func() bool {
		return e.Status() == model.ReconnectFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, target.calls(), "no attempt beyond the maximum")
	hist := e.History()
	require.Len(t, hist, 3)
	for i, attempt := range hist {
		assert.Equal(t, i+1, attempt.Number)
		assert.False(t, attempt.Success)
		assert.Equal(t, "health check failed", attempt.Reason)
	}

	// Failed is terminal: further scheduling never starts the target.
	e.Schedule("again")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, target.calls())
	assert.Equal(t, int64(3), e.TotalAttempts())
}

func TestConcurrentSchedulesCollapse(t *testing.T) {
	target := &fakeTarget{startOK: true}
	e, _ := newTestEngine(t, target, Policy{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Schedule("flood")
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return e.Status() == model.ReconnectSuccess || e.Status() == model.ReconnectIdle
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, target.calls(), "at most one pipeline in flight")
	assert.Equal(t, 0, e.Attempts(), "counter reset on success")
}

func TestScheduleNoopWhenDisabled(t *testing.T) {
	target := &fakeTarget{}
	e, _ := newTestEngine(t, target, DefaultPolicy())
	e.SetEnabled(false)

	e.Schedule("network change")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, target.calls())
	assert.Equal(t, model.ReconnectIdle, e.Status())
}

func TestScheduleNoopWithoutConfig(t *testing.T) {
	target := &fakeTarget{}
	rec := &statusRecorder{}
	em := event.NewEmitter()
	em.Register(rec.sink())
	e := NewEngine(target, DefaultPolicy(), em)
	e.Start("")
	defer e.Stop()

	e.Schedule("no config known")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, target.calls())
}

func TestAbandonWhenTargetAlreadyRunning(t *testing.T) {
	target := &fakeTarget{running: true}
	e, rec := newTestEngine(t, target, Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	e.Schedule("spurious")

	require.Eventually(t, func() bool {
		return e.Status() == model.ReconnectIdle && e.Attempts() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, target.calls(), "abandoned wait must not start the target")
	assert.Empty(t, e.History(), "abandonment is not an attempt")
	assert.Equal(t, []model.ReconnectionStatus{model.ReconnectAttempting, model.ReconnectIdle}, rec.snapshot())
}

func TestStopInterruptsBackoff(t *testing.T) {
	target := &fakeTarget{}
	rec := &statusRecorder{}
	em := event.NewEmitter()
	em.Register(rec.sink())
	e := NewEngine(target, Policy{
		MaxAttempts:  3,
		InitialDelay: 30 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}, em)
	e.Start(`{"inbounds": [], "outbounds": []}`)

	e.Schedule("long wait")
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the backoff wait")
	}

	assert.Equal(t, 0, target.calls())
	assert.Equal(t, model.ReconnectIdle, e.Status())
	assert.Equal(t, 0, e.Attempts())
}

func TestResetAttemptsKeepsStatus(t *testing.T) {
	target := &fakeTarget{startOK: false}
	e, _ := newTestEngine(t, target, Policy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	})

	e.Schedule("drop")
	require.Eventually(t, func() bool {
		return e.Status() == model.ReconnectFailed
	}, 5*time.Second, 10*time.Millisecond)

	e.ResetAttempts()
	assert.Equal(t, 0, e.Attempts())
	assert.Empty(t, e.History())
	assert.Equal(t, model.ReconnectFailed, e.Status(), "reset does not change status")

	// After a reset the engine can attempt again.
	target.mu.Lock()
	target.startOK = true
	target.mu.Unlock()
	e.Schedule("retry after reset")
	require.Eventually(t, func() bool {
		return e.Status() == model.ReconnectSuccess || e.Status() == model.ReconnectIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestResetCounterOnly(t *testing.T) {
	target := &fakeTarget{startOK: false}
	e, _ := newTestEngine(t, target, Policy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	})

	e.Schedule("probe failure")
	require.Eventually(t, func() bool {
		return e.Status() == model.ReconnectFailed
	}, 5*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, e.History())

	e.ResetCounter()
	assert.Equal(t, 0, e.Attempts())
	assert.NotEmpty(t, e.History(), "counter reset keeps history")
}

func TestStatusEventsFireOncePerTransition(t *testing.T) {
	target := &fakeTarget{startOK: false}
	e, rec := newTestEngine(t, target, Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	})

	e.Schedule("flap")
	require.Eventually(t, func() bool {
		return e.Status() == model.ReconnectFailed
	}, 5*time.Second, 10*time.Millisecond)

	events := rec.snapshot()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.NotEqual(t, events[i-1], events[i], "no repeated identical transition events")
	}
	assert.Equal(t, model.ReconnectFailed, events[len(events)-1])
}
