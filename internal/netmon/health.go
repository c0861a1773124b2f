package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/util"
)

const (
	// DefaultCheckInterval is the health check period.
	DefaultCheckInterval = 30 * time.Second
	// DefaultProbeURL is probed to verify end-to-end reachability
	// through the tunnel.
	DefaultProbeURL = "http://www.google.com"
	// DefaultProbeTimeout bounds one reachability probe.
	DefaultProbeTimeout = 10 * time.Second
)

// Prober checks end-to-end internet reachability. Injectable for tests.
type Prober func(ctx context.Context) bool

// EngineStatus is the capability the checker needs from the supervisor.
type EngineStatus interface {
	IsRunning() bool
}

// Scheduler is the capability the checker needs from the reconnection
// engine.
type Scheduler interface {
	Schedule(reason string)
	ResetCounter()
}

// CheckerOptions configures a health checker. Zero values select the
// defaults; a nil CollectionOK treats collection as always healthy.
type CheckerOptions struct {
	Interval     time.Duration
	Probe        Prober
	CollectionOK func() bool
}

// Checker runs the periodic connection health evaluation. Verdicts are
// ordered: a stopped engine outranks a failed probe, which outranks
// degraded stats collection.
type Checker struct {
	engine    EngineStatus
	scheduler Scheduler
	probe     Prober
	collectOK func() bool
	interval  time.Duration
	emitter   *event.Emitter

	mu     sync.Mutex
	active bool
	stop   chan struct{}
	health model.ConnectionHealth
	last   time.Time

	loop sync.WaitGroup
}

// NewChecker creates a health checker over the given engine and
// reconnection scheduler.
func NewChecker(eng EngineStatus, scheduler Scheduler, opts CheckerOptions, emitter *event.Emitter) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultCheckInterval
	}
	if opts.Probe == nil {
		opts.Probe = HTTPProbe(DefaultProbeURL, DefaultProbeTimeout)
	}
	return &Checker{
		engine:    eng,
		scheduler: scheduler,
		probe:     opts.Probe,
		collectOK: opts.CollectionOK,
		interval:  opts.Interval,
		emitter:   emitter,
		health:    model.HealthUnknown,
	}
}

// Start runs an immediate check and launches the periodic loop.
func (c *Checker) Start() {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	util.Info("Health checking started (interval %s)", c.interval)
	c.CheckNow()

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
				c.CheckNow()
			}
		}
	}()
}

// Stop halts the check loop.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	close(c.stop)
	c.mu.Unlock()

	c.loop.Wait()
	util.Info("Health checking stopped")
}

// Health returns the latest verdict.
func (c *Checker) Health() model.ConnectionHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// LastCheck returns when the last evaluation completed.
func (c *Checker) LastCheck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// CheckNow performs one evaluation and returns the verdict. The probe
// runs outside the lock.
func (c *Checker) CheckNow() model.ConnectionHealth {
	verdict := c.evaluate()

	c.mu.Lock()
	prev := c.health
	c.health = verdict
	c.last = time.Now()
	c.mu.Unlock()

	if prev != verdict {
		util.Info("Connection health: %s -> %s", prev, verdict)
		c.emitter.ConnectionHealthChanged(verdict)
	}
	return verdict
}

func (c *Checker) evaluate() model.ConnectionHealth {
	if !c.engine.IsRunning() {
		c.scheduler.Schedule("engine not running")
		return model.HealthDisconnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultProbeTimeout)
	ok := c.probe(ctx)
	cancel()
	if !ok {
		c.scheduler.Schedule("internet probe failed")
		return model.HealthDisconnected
	}

	if c.collectOK != nil && !c.collectOK() {
		return model.HealthPoor
	}

	c.scheduler.ResetCounter()
	return model.HealthGood
}

// HTTPProbe returns a prober that issues a GET against the given URL.
// Any completed response counts as reachable.
func HTTPProbe(url string, timeout time.Duration) Prober {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}
