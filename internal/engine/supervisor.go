// Package engine owns the lifecycle of the external sing-box process:
// discovery, spawn, liveness, termination and counter queries.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/user/tunnelguard/internal/history"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/util"
)

// EnvSingboxPath overrides executable discovery when set.
const EnvSingboxPath = "TUNNELGUARD_SINGBOX_PATH"

const (
	executableName = "sing-box"

	// A real engine binary is several MB; anything smaller is a stub or
	// a broken download.
	minExecutableSize = 1 << 20

	defaultStartupWindow   = 3 * time.Second
	defaultStopGrace       = 5 * time.Second
	defaultMonitorInterval = time.Second
	startupPollStep        = 100 * time.Millisecond

	maxErrorHistory = 50
)

// State is the supervisor's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Stopped"
	}
}

// Options configures a Supervisor.
type Options struct {
	// ExecutablePath skips discovery when set.
	ExecutablePath string
	// ConfigDir is where the private config file is written; defaults to
	// the OS temp dir.
	ConfigDir string
	// StartupWindow is how long the process must survive before Start
	// reports success.
	StartupWindow time.Duration
	// StopGrace is how long Stop waits after SIGTERM before escalating
	// to SIGKILL.
	StopGrace time.Duration
	// MonitorInterval is the crash monitor's liveness poll interval.
	MonitorInterval time.Duration
	// Source supplies cumulative counters; nil means no counter channel
	// is available and queries report zeros.
	Source CounterSource
	// OnError receives every recorded error, including asynchronous
	// crash detection. Called from arbitrary goroutines.
	OnError func(kind model.ErrorKind, msg string)
}

// Supervisor manages one sing-box process. All public operations return
// a success indicator; the failure cause is queryable through LastError
// and LastErrorMessage.
type Supervisor struct {
	opts Options

	mu          sync.Mutex
	state       State
	initialized bool
	exePath     string
	configPath  string
	proc        *os.Process
	pid         int
	startTime   time.Time
	waitDone    chan struct{}

	lastErr    model.ErrorKind
	lastErrMsg string
	errors     *history.Ring[model.ErrorRecord]

	monitorStop chan struct{}
	monitorWG   sync.WaitGroup
}

// NewSupervisor creates a supervisor; call Initialize or Start next.
func NewSupervisor(opts Options) *Supervisor {
	if opts.StartupWindow <= 0 {
		opts.StartupWindow = defaultStartupWindow
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = defaultMonitorInterval
	}
	if opts.Source == nil {
		opts.Source = zeroSource{}
	}
	return &Supervisor{
		opts:   opts,
		errors: history.NewRing[model.ErrorRecord](maxErrorHistory),
	}
}

// Initialize locates and validates the engine executable. Safe to call
// repeatedly; only the first successful call does work.
func (s *Supervisor) Initialize() bool {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	path, err := s.discoverExecutable()
	if err != nil {
		s.setError(model.ErrInitializationFailed, err.Error(), 0)
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		s.setError(model.ErrInitializationFailed, fmt.Sprintf("cannot access engine executable: %v", err), 0)
		return false
	}
	if info.Size() < minExecutableSize {
		s.setError(model.ErrInitializationFailed,
			fmt.Sprintf("engine executable looks invalid (%d bytes): %s", info.Size(), path), 0)
		return false
	}

	s.mu.Lock()
	s.exePath = path
	s.initialized = true
	s.mu.Unlock()

	util.Info("Engine executable: %s", path)
	return true
}

func (s *Supervisor) discoverExecutable() (string, error) {
	if s.opts.ExecutablePath != "" {
		return s.opts.ExecutablePath, nil
	}

	name := executableName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	if env := os.Getenv(EnvSingboxPath); env != "" {
		if util.FileExists(env) {
			return env, nil
		}
		util.Warn("Configured engine path does not exist: %s", env)
	}

	if exe, err := os.Executable(); err == nil {
		appDir := filepath.Dir(exe)
		for _, dir := range []string{"", "bin", "sing-box", "native"} {
			candidate := filepath.Join(appDir, dir, name)
			if util.FileExists(candidate) {
				return candidate, nil
			}
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("engine executable %q not found", name)
}

// Start validates the configuration, writes it to a private file,
// launches the engine and confirms it survives the startup window.
// Returns true only once the process is established.
func (s *Supervisor) Start(configJSON string) bool {
	if !s.Initialize() {
		return false
	}

	if s.IsRunning() {
		util.Info("Engine is already running")
		return true
	}

	if err := ValidateConfig(configJSON); err != nil {
		s.setError(model.ErrConfigurationInvalid, err.Error(), 0)
		return false
	}

	configPath, err := s.writeConfigFile(configJSON)
	if err != nil {
		s.setError(model.ErrConfigurationInvalid, fmt.Sprintf("failed to write config file: %v", err), 0)
		return false
	}

	s.mu.Lock()
	s.state = StateStarting
	s.configPath = configPath
	exePath := s.exePath
	s.mu.Unlock()

	cmd := exec.Command(exePath, "run", "-c", configPath)
	if err := cmd.Start(); err != nil {
		s.removeConfigFile()
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		if os.IsPermission(err) {
			s.setError(model.ErrPermissionDenied, fmt.Sprintf("access denied starting engine: %v", err), 0)
		} else {
			s.setError(model.ErrProcessStartFailed, fmt.Sprintf("failed to start engine process: %v", err), 0)
		}
		return false
	}

	waitDone := make(chan struct{})
	go func() {
		cmd.Wait()
		close(waitDone)
	}()

	s.mu.Lock()
	s.proc = cmd.Process
	s.pid = cmd.Process.Pid
	s.waitDone = waitDone
	s.startTime = time.Now()
	s.mu.Unlock()

	// The process must survive the whole startup window before Start is
	// considered successful.
	deadline := time.Now().Add(s.opts.StartupWindow)
	for time.Now().Before(deadline) {
		select {
		case <-waitDone:
			s.removeConfigFile()
			s.mu.Lock()
			stopped := s.state != StateStarting
			s.state = StateStopped
			s.proc = nil
			s.mu.Unlock()
			if !stopped {
				s.setError(model.ErrProcessCrashed, "engine process exited during startup", 0)
			}
			return false
		case <-time.After(startupPollStep):
		}
	}

	s.mu.Lock()
	if s.state != StateStarting {
		// Stop ran during the startup window; don't resurrect the state
		// it already tore down.
		proc := s.proc
		s.proc = nil
		s.pid = 0
		s.mu.Unlock()
		if proc != nil {
			proc.Kill()
		}
		s.removeConfigFile()
		return false
	}
	s.state = StateRunning
	pid := s.pid
	s.mu.Unlock()

	s.startMonitor()

	util.Info("Engine started with PID %d", pid)
	return true
}

// Stop terminates the process gracefully, escalating to SIGKILL after
// the grace period. Idempotent if already stopped.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateStarting {
		s.mu.Unlock()
		return true
	}
	s.state = StateStopping
	proc := s.proc
	waitDone := s.waitDone
	s.mu.Unlock()

	s.stopMonitor()

	stopped := true
	if proc != nil {
		if err := proc.Signal(unix.SIGTERM); err != nil {
			util.Warn("Failed to signal engine process: %v", err)
		}

		select {
		case <-waitDone:
		case <-time.After(s.opts.StopGrace):
			util.Warn("Engine did not exit within grace period, killing")
			if err := proc.Kill(); err != nil {
				util.Error("Failed to kill engine process: %v", err)
				stopped = false
			} else {
				<-waitDone
			}
		}
	}

	s.removeConfigFile()

	s.mu.Lock()
	s.state = StateStopped
	s.proc = nil
	s.pid = 0
	s.mu.Unlock()

	if stopped {
		util.Info("Engine stopped")
	}
	return stopped
}

// IsRunning reports OS-level process liveness, not just the in-memory
// state: a crashed process is discoverable before any Stop call.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	state := s.state
	pid := s.pid
	waitDone := s.waitDone
	s.mu.Unlock()

	if state != StateRunning && state != StateStarting {
		return false
	}
	return processAlive(pid, waitDone)
}

func processAlive(pid int, waitDone chan struct{}) bool {
	if pid <= 0 {
		return false
	}
	select {
	case <-waitDone:
		return false
	default:
	}
	// Signal 0 probes for existence without delivering anything.
	return unix.Kill(pid, 0) == nil
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Uptime returns how long the current process has been running, or zero.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// Counters queries the engine's cumulative traffic counters.
func (s *Supervisor) Counters(ctx context.Context) (Counters, error) {
	if !s.IsRunning() {
		return Counters{}, fmt.Errorf("engine is not running")
	}
	return s.opts.Source.Counters(ctx)
}

// LastError returns the most recent error kind.
func (s *Supervisor) LastError() model.ErrorKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastErrorMessage returns the most recent error message.
func (s *Supervisor) LastErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErrMsg
}

// ErrorHistory returns recorded errors, oldest first.
func (s *Supervisor) ErrorHistory() []model.ErrorRecord {
	return s.errors.Items()
}

// Diagnostics returns a snapshot of supervisor internals.
func (s *Supervisor) Diagnostics() model.DiagnosticReport {
	running := s.IsRunning()
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.DiagnosticReport{
		Initialized:    s.initialized,
		Running:        running,
		PID:            s.pid,
		ExecutablePath: s.exePath,
		ConfigFilePath: s.configPath,
		StartTime:      s.startTime,
		LastError:      s.lastErr.String(),
		LastErrorMsg:   s.lastErrMsg,
	}
}

func (s *Supervisor) writeConfigFile(configJSON string) (string, error) {
	dir := s.opts.ConfigDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := util.EnsureDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("tunnelguard-%d.json", os.Getpid()))
	if err := os.WriteFile(path, []byte(configJSON), 0600); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Supervisor) removeConfigFile() {
	s.mu.Lock()
	path := s.configPath
	s.configPath = ""
	s.mu.Unlock()
	if path != "" {
		os.Remove(path)
	}
}

func (s *Supervisor) setError(kind model.ErrorKind, msg string, retries int) {
	s.mu.Lock()
	s.lastErr = kind
	s.lastErrMsg = msg
	s.mu.Unlock()

	s.errors.Push(model.ErrorRecord{
		Kind:       kind,
		Message:    msg,
		Timestamp:  time.Now(),
		RetryCount: retries,
	})

	util.Error("Engine: %s: %s", kind, msg)
	if s.opts.OnError != nil {
		s.opts.OnError(kind, msg)
	}
}

// startMonitor launches the crash monitor loop. It detects the
// Running -> Crashed transition asynchronously.
func (s *Supervisor) startMonitor() {
	s.mu.Lock()
	if s.monitorStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.monitorStop = stop
	pid := s.pid
	waitDone := s.waitDone
	s.mu.Unlock()

	s.monitorWG.Add(1)
	go func() {
		defer s.monitorWG.Done()
		ticker := time.NewTicker(s.opts.MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if processAlive(pid, waitDone) {
					continue
				}
				s.mu.Lock()
				crashed := s.state == StateRunning
				if crashed {
					s.state = StateCrashed
				}
				if s.monitorStop == stop {
					s.monitorStop = nil
				}
				s.mu.Unlock()
				if crashed {
					s.setError(model.ErrProcessCrashed, "engine process has exited unexpectedly", 0)
				}
				return
			}
		}
	}()
}

func (s *Supervisor) stopMonitor() {
	s.mu.Lock()
	stop := s.monitorStop
	s.monitorStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	s.monitorWG.Wait()
}
