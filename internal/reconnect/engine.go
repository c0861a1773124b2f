// Package reconnect drives the automatic reconnection state machine:
// exponential backoff, bounded attempts and a single in-flight pipeline.
package reconnect

import (
	"math"
	"sync"
	"time"

	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/history"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/util"
)

const (
	// DefaultMaxAttempts bounds a reconnection pipeline.
	DefaultMaxAttempts = 10
	// DefaultInitialDelay is the first backoff delay.
	DefaultInitialDelay = time.Second
	// DefaultMaxDelay caps the backoff.
	DefaultMaxDelay = time.Minute
	// DefaultMultiplier is the backoff growth factor.
	DefaultMultiplier = 2.0

	// settleDelay is how long Success is held before returning to Idle.
	settleDelay = 2 * time.Second
	// waitStep is the granularity of the interruptible backoff sleep.
	waitStep = 100 * time.Millisecond

	maxAttemptHistory = 100
)

// Target is the narrow capability the engine needs from the process
// supervisor.
type Target interface {
	Start(configJSON string) bool
	IsRunning() bool
}

// Policy holds the backoff parameters.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy returns the standard backoff policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// Engine is the reconnection state machine. At most one pipeline is in
// flight at any instant; concurrent Schedule calls collapse into it.
type Engine struct {
	target  Target
	emitter *event.Emitter

	mu       sync.Mutex
	policy   Policy
	status   model.ReconnectionStatus
	enabled  bool
	active   bool
	inFlight bool
	config   string
	attempts int
	total    int64
	stop     chan struct{}

	// onSuccess lets the owner push ConnectionHealth = Good after a
	// successful restart.
	onSuccess func()

	attemptHistory *history.Ring[model.ReconnectionAttempt]
	pipelines      sync.WaitGroup
}

// NewEngine creates a reconnection engine around the given target.
func NewEngine(target Target, policy Policy, emitter *event.Emitter) *Engine {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultInitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = DefaultMultiplier
	}
	return &Engine{
		target:         target,
		emitter:        emitter,
		policy:         policy,
		status:         model.ReconnectIdle,
		enabled:        true,
		attemptHistory: history.NewRing[model.ReconnectionAttempt](maxAttemptHistory),
	}
}

// Start activates the engine. Scheduling is ignored until then.
func (e *Engine) Start(configJSON string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return
	}
	e.active = true
	e.config = configJSON
	e.stop = make(chan struct{})
}

// Stop deactivates the engine, interrupts any backoff wait and clears
// all per-session state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	close(e.stop)
	e.mu.Unlock()

	e.pipelines.Wait()

	e.mu.Lock()
	e.attempts = 0
	e.total = 0
	e.status = model.ReconnectIdle
	e.mu.Unlock()
	e.attemptHistory.Clear()
}

// SetEnabled toggles automatic reconnection. Disabling does not abort a
// pipeline already in flight.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	if enabled {
		util.Info("Reconnection enabled")
	} else {
		util.Info("Reconnection disabled")
	}
}

// SetMaxAttempts adjusts the attempt bound.
func (e *Engine) SetMaxAttempts(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.policy.MaxAttempts = n
	e.mu.Unlock()
}

// SetConfig replaces the configuration used for restarts.
func (e *Engine) SetConfig(configJSON string) {
	e.mu.Lock()
	e.config = configJSON
	e.mu.Unlock()
}

// OnSuccess registers a hook invoked after a successful reconnection.
func (e *Engine) OnSuccess(fn func()) {
	e.mu.Lock()
	e.onSuccess = fn
	e.mu.Unlock()
}

// Status returns the current reconnection status.
func (e *Engine) Status() model.ReconnectionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Attempts returns the current attempt counter.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// TotalAttempts returns how many attempts were made since Start. Unlike
// the attempt counter it is not reset on a Good verdict.
func (e *Engine) TotalAttempts() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// History returns recorded attempts, oldest first.
func (e *Engine) History() []model.ReconnectionAttempt {
	return e.attemptHistory.Items()
}

// ResetAttempts clears the attempt counter and history without changing
// the current status.
func (e *Engine) ResetAttempts() {
	e.mu.Lock()
	e.attempts = 0
	e.mu.Unlock()
	e.attemptHistory.Clear()
	util.Info("Reconnection attempts reset")
}

// ResetCounter zeroes the attempt counter only. Called on a Good health
// verdict.
func (e *Engine) ResetCounter() {
	e.mu.Lock()
	e.attempts = 0
	e.mu.Unlock()
}

// Schedule requests a reconnection. It is a no-op if the engine is
// inactive, disabled, has no configuration, or a pipeline is already in
// flight.
func (e *Engine) Schedule(reason string) {
	e.mu.Lock()
	if !e.active || !e.enabled || e.config == "" || e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	stop := e.stop
	e.mu.Unlock()

	util.Info("Reconnection scheduled: %s", reason)

	e.pipelines.Add(1)
	go func() {
		defer e.pipelines.Done()
		defer func() {
			e.mu.Lock()
			e.inFlight = false
			e.mu.Unlock()
		}()
		e.runPipeline(reason, stop)
	}()
}

// runPipeline performs successive attempts until success, exhaustion or
// interruption. It is the only goroutine mutating attempt state while
// in flight.
func (e *Engine) runPipeline(reason string, stop chan struct{}) {
	for {
		e.mu.Lock()
		if e.attempts >= e.policy.MaxAttempts {
			e.mu.Unlock()
			e.setStatus(model.ReconnectFailed)
			return
		}
		e.attempts++
		attempt := e.attempts
		config := e.config
		delay := e.backoffDelayLocked(attempt)
		e.mu.Unlock()

		e.setStatus(model.ReconnectAttempting)
		util.Info("Reconnection attempt #%d in %s (reason: %s)", attempt, delay, reason)

		switch e.waitBackoff(delay, stop) {
		case waitStopped:
			e.mu.Lock()
			e.attempts--
			e.mu.Unlock()
			e.setStatus(model.ReconnectIdle)
			return
		case waitAbandoned:
			// Target came back on its own; this never counts as an
			// attempt.
			e.mu.Lock()
			e.attempts--
			e.mu.Unlock()
			e.setStatus(model.ReconnectIdle)
			return
		case waitElapsed:
		}

		success := e.target.Start(config)
		e.recordAttempt(attempt, reason, success)

		if success {
			util.Info("Reconnection successful after %d attempt(s)", attempt)
			e.mu.Lock()
			e.attempts = 0
			fn := e.onSuccess
			e.mu.Unlock()
			e.setStatus(model.ReconnectSuccess)
			if fn != nil {
				fn()
			}
			select {
			case <-stop:
			case <-time.After(settleDelay):
			}
			e.setStatus(model.ReconnectIdle)
			return
		}

		util.Warn("Reconnection attempt #%d failed", attempt)
		e.mu.Lock()
		exhausted := e.attempts >= e.policy.MaxAttempts
		e.mu.Unlock()
		if exhausted {
			e.setStatus(model.ReconnectFailed)
			return
		}
	}
}

type waitResult int

const (
	waitElapsed waitResult = iota
	waitStopped
	waitAbandoned
)

// waitBackoff sleeps for the backoff delay in small steps so the wait
// stays interruptible by engine stop or by the target already running.
func (e *Engine) waitBackoff(delay time.Duration, stop chan struct{}) waitResult {
	deadline := time.Now().Add(delay)
	for {
		if e.target.IsRunning() {
			return waitAbandoned
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return waitElapsed
		}
		step := waitStep
		if remaining < step {
			step = remaining
		}
		select {
		case <-stop:
			return waitStopped
		case <-time.After(step):
		}
	}
}

// backoffDelayLocked computes min(initial * multiplier^(attempt-1), cap).
func (e *Engine) backoffDelayLocked(attempt int) time.Duration {
	delay := float64(e.policy.InitialDelay) * math.Pow(e.policy.Multiplier, float64(attempt-1))
	if capped := float64(e.policy.MaxDelay); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// BackoffDelay exposes the delay schedule for a given attempt number.
func (e *Engine) BackoffDelay(attempt int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backoffDelayLocked(attempt)
}

func (e *Engine) recordAttempt(number int, reason string, success bool) {
	e.mu.Lock()
	e.total++
	e.mu.Unlock()
	e.attemptHistory.Push(model.ReconnectionAttempt{
		Number:    number,
		Timestamp: time.Now(),
		Reason:    reason,
		Success:   success,
	})
}

// setStatus publishes a status transition; identical updates are
// suppressed.
func (e *Engine) setStatus(status model.ReconnectionStatus) {
	e.mu.Lock()
	if e.status == status {
		e.mu.Unlock()
		return
	}
	e.status = status
	attempt := e.attempts
	e.mu.Unlock()
	e.emitter.ReconnectionStatusChanged(status, attempt)
}
