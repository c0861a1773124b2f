// Package daemon wires the supervision components together and runs
// them as a background service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/user/tunnelguard/internal/engine"
	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/netmon"
	"github.com/user/tunnelguard/internal/reconnect"
	"github.com/user/tunnelguard/internal/stats"
	"github.com/user/tunnelguard/internal/storage"
	"github.com/user/tunnelguard/internal/util"
)

// Daemon owns the supervised engine and all monitoring loops.
type Daemon struct {
	config  *util.Config
	db      *storage.DB
	emitter *event.Emitter

	supervisor  *engine.Supervisor
	reconnector *reconnect.Engine
	collector   *stats.Collector
	network     *netmon.Monitor
	checker     *netmon.Checker
	scheduler   *Scheduler

	pidFile    string
	configJSON string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	startTime  time.Time
	mu         sync.RWMutex

	lastAttemptSync time.Time
}

// New creates a daemon instance. The tunnel configuration is read from
// cfg.TunnelConfig.
func New(cfg *util.Config) (*Daemon, error) {
	if cfg.TunnelConfig == "" {
		return nil, fmt.Errorf("no tunnel configuration set (tunnel_config)")
	}
	configJSON, err := os.ReadFile(cfg.TunnelConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to read tunnel configuration: %w", err)
	}

	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		db:         db,
		emitter:    event.NewEmitter(),
		pidFile:    filepath.Join(cfg.DataDir, "tunnelguard.pid"),
		configJSON: string(configJSON),
		ctx:        ctx,
		cancel:     cancel,
	}

	d.emitter.Register(newStorageSink(db))

	var source engine.CounterSource
	if cfg.StatsEndpoint != "" {
		source = engine.NewHTTPSource(cfg.StatsEndpoint)
	}
	d.supervisor = engine.NewSupervisor(engine.Options{
		ExecutablePath: cfg.SingboxPath,
		ConfigDir:      cfg.DataDir,
		StartupWindow:  cfg.StartupWindow,
		StopGrace:      cfg.StopGracePeriod,
		Source:         source,
		OnError: func(kind model.ErrorKind, msg string) {
			d.emitter.ProcessError(model.ErrorRecord{
				Kind:      kind,
				Message:   msg,
				Timestamp: time.Now(),
			})
		},
	})

	d.reconnector = reconnect.NewEngine(d.supervisor, reconnect.Policy{
		MaxAttempts:  cfg.MaxRetryAttempts,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Multiplier:   cfg.BackoffMultiplier,
	}, d.emitter)
	d.reconnector.SetEnabled(cfg.ReconnectionEnabled)

	d.collector = stats.NewCollector(d.supervisor, cfg.StatsInterval, d.emitter)

	probe := netmon.HTTPProbe(cfg.ProbeURL, cfg.ProbeTimeout)

	d.network = netmon.NewMonitor(nil, cfg.NetworkPollInterval, probe, d.emitter)
	d.network.OnChange(func(reason string) {
		if !d.supervisor.IsRunning() {
			d.reconnector.Schedule(reason)
		}
	})

	d.checker = netmon.NewChecker(d.supervisor, d.reconnector, netmon.CheckerOptions{
		Interval:     cfg.HealthCheckInterval,
		Probe:        probe,
		CollectionOK: d.collector.Healthy,
	}, d.emitter)

	// A successful reconnection re-evaluates health immediately instead
	// of waiting out the check interval.
	d.reconnector.OnSuccess(func() { d.checker.CheckNow() })

	d.scheduler = NewScheduler(ctx)

	return d, nil
}

// Start launches the engine and all monitoring loops.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	util.Info("Daemon starting...")

	if !d.supervisor.Start(d.configJSON) {
		d.removePIDFile()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to start tunnel engine: %s", d.supervisor.LastErrorMessage())
	}

	d.reconnector.Start(d.configJSON)
	d.collector.Start()
	d.network.Start()
	d.checker.Start()

	d.registerJobs()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.scheduler.Run()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handleSignals()
	}()

	util.Info("Daemon started with PID %d", os.Getpid())

	return nil
}

// Wait blocks until the daemon has shut down.
func (d *Daemon) Wait() {
	d.wg.Wait()
}

// Stop shuts everything down in dependency order: monitoring first, then
// the reconnector so no restart races the engine stop, then the engine.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	util.Info("Daemon stopping...")

	d.checker.Stop()
	d.network.Stop()
	d.collector.Stop()
	d.reconnector.Stop()
	d.supervisor.Stop()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		util.Info("Daemon stopped gracefully")
	case <-time.After(30 * time.Second):
		util.Warn("Daemon stop timed out")
	}

	d.removePIDFile()
	if d.db != nil {
		d.db.Close()
	}

	return nil
}

func (d *Daemon) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)

	select {
	case sig := <-sigCh:
		util.Info("Received signal: %v", sig)
		d.Stop()
	case <-d.ctx.Done():
		return
	}
}

func (d *Daemon) writePIDFile() error {
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (d *Daemon) removePIDFile() {
	os.Remove(d.pidFile)
}

// IsRunning returns whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Status is a point-in-time snapshot of the daemon and the tunnel.
type Status struct {
	Running   bool          `json:"running"`
	PID       int           `json:"pid"`
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`

	Engine          model.DiagnosticReport `json:"engine"`
	NetworkState    string                 `json:"network_state"`
	Health          string                 `json:"health"`
	ReconnectStatus string                 `json:"reconnect_status"`
	Attempts        int                    `json:"attempts"`
	DownloadSpeed   float64                `json:"download_speed"`
	UploadSpeed     float64                `json:"upload_speed"`

	Jobs []JobStatus `json:"jobs"`
}

// GetStatus assembles the current status snapshot.
func (d *Daemon) GetStatus() *Status {
	d.mu.RLock()
	running := d.running
	startTime := d.startTime
	d.mu.RUnlock()

	smoothed := d.collector.Smoothed()

	return &Status{
		Running:         running,
		PID:             os.Getpid(),
		StartTime:       startTime,
		Uptime:          time.Since(startTime),
		Engine:          d.supervisor.Diagnostics(),
		NetworkState:    d.network.State().String(),
		Health:          d.checker.Health().String(),
		ReconnectStatus: d.reconnector.Status().String(),
		Attempts:        d.reconnector.Attempts(),
		DownloadSpeed:   smoothed.DownloadSpeed,
		UploadSpeed:     smoothed.UploadSpeed,
		Jobs:            d.scheduler.GetJobStatuses(),
	}
}

// Supervisor returns the engine supervisor.
func (d *Daemon) Supervisor() *engine.Supervisor {
	return d.supervisor
}

// Reconnector returns the reconnection engine.
func (d *Daemon) Reconnector() *reconnect.Engine {
	return d.reconnector
}

// Collector returns the stats collector.
func (d *Daemon) Collector() *stats.Collector {
	return d.collector
}

// Network returns the network monitor.
func (d *Daemon) Network() *netmon.Monitor {
	return d.network
}

// Checker returns the health checker.
func (d *Daemon) Checker() *netmon.Checker {
	return d.checker
}

// Emitter returns the event emitter so additional sinks can register.
func (d *Daemon) Emitter() *event.Emitter {
	return d.emitter
}

// GetDB returns the database instance.
func (d *Daemon) GetDB() *storage.DB {
	return d.db
}

// GetConfig returns the configuration.
func (d *Daemon) GetConfig() *util.Config {
	return d.config
}

// GetContext returns the daemon context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}
