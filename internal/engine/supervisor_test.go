package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/tunnelguard/internal/model"
)

// writeFakeEngine writes an executable shell script padded past the
// minimum size check. The script sleeps for the given duration so the
// supervisor has a real process to manage.
func writeFakeEngine(t *testing.T, sleep string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine script requires a POSIX shell")
	}

	script := "#!/bin/sh\nsleep " + sleep + "\n# padding\n"
	padded := script + strings.Repeat("#", minExecutableSize)

	path := filepath.Join(t.TempDir(), "sing-box")
	require.NoError(t, os.WriteFile(path, []byte(padded), 0755))
	return path
}

func TestInitializeMissingExecutable(t *testing.T) {
	s := NewSupervisor(Options{ExecutablePath: filepath.Join(t.TempDir(), "nope")})

	assert.False(t, s.Initialize())
	assert.Equal(t, model.ErrInitializationFailed, s.LastError())
}

func TestInitializeRejectsTinyExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sing-box")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	s := NewSupervisor(Options{ExecutablePath: path})
	assert.False(t, s.Initialize())
	assert.Equal(t, model.ErrInitializationFailed, s.LastError())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	s := NewSupervisor(Options{ExecutablePath: writeFakeEngine(t, "60")})

	assert.False(t, s.Start(`{"not": "a tunnel config"}`))
	assert.Equal(t, model.ErrConfigurationInvalid, s.LastError())
	assert.Equal(t, StateStopped, s.State())
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(Options{
		ExecutablePath:  writeFakeEngine(t, "60"),
		ConfigDir:       dir,
		StartupWindow:   200 * time.Millisecond,
		MonitorInterval: 50 * time.Millisecond,
	})

	require.True(t, s.Start(minimalConfig))
	assert.True(t, s.IsRunning())
	assert.Equal(t, StateRunning, s.State())
	assert.Greater(t, s.Diagnostics().PID, 0)

	// Config file exists while running and is private to the owner.
	diag := s.Diagnostics()
	info, err := os.Stat(diag.ConfigFilePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.True(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Equal(t, StateStopped, s.State())
	_, err = os.Stat(diag.ConfigFilePath)
	assert.True(t, os.IsNotExist(err), "config file removed on stop")

	// Idempotent.
	assert.True(t, s.Stop())
}

func TestStartFailsWhenProcessDiesInStartupWindow(t *testing.T) {
	s := NewSupervisor(Options{
		ExecutablePath: writeFakeEngine(t, "0"),
		ConfigDir:      t.TempDir(),
		StartupWindow:  500 * time.Millisecond,
	})

	assert.False(t, s.Start(minimalConfig))
	assert.Equal(t, model.ErrProcessCrashed, s.LastError())
	assert.Equal(t, StateStopped, s.State())
}

func TestStopDuringStartupWindow(t *testing.T) {
	s := NewSupervisor(Options{
		ExecutablePath: writeFakeEngine(t, "60"),
		ConfigDir:      t.TempDir(),
		StartupWindow:  time.Second,
	})

	started := make(chan bool, 1)
	go func() { started <- s.Start(minimalConfig) }()

	// Let the process spawn, then stop while the startup window is still
	// open.
	time.Sleep(300 * time.Millisecond)
	require.True(t, s.Stop())

	assert.False(t, <-started, "a stopped engine must not be promoted to Running")
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.IsRunning())
	assert.NotEqual(t, model.ErrProcessCrashed, s.LastError(), "a deliberate stop is not a crash")
}

func TestMonitorDetectsCrash(t *testing.T) {
	var mu sync.Mutex
	var kinds []model.ErrorKind

	s := NewSupervisor(Options{
		ExecutablePath:  writeFakeEngine(t, "1"),
		ConfigDir:       t.TempDir(),
		StartupWindow:   200 * time.Millisecond,
		MonitorInterval: 50 * time.Millisecond,
		OnError: func(kind model.ErrorKind, msg string) {
			mu.Lock()
			kinds = append(kinds, kind)
			mu.Unlock()
		},
	})

	require.True(t, s.Start(minimalConfig))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range kinds {
			if k == model.ErrProcessCrashed {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "crash should be raised through the callback path")

	assert.Equal(t, StateCrashed, s.State())
	assert.False(t, s.IsRunning())
}

func TestCountersRequireRunningEngine(t *testing.T) {
	s := NewSupervisor(Options{ExecutablePath: filepath.Join(t.TempDir(), "nope")})

	_, err := s.Counters(context.Background())
	assert.Error(t, err)
}

func TestErrorHistoryBounded(t *testing.T) {
	s := NewSupervisor(Options{})
	for i := 0; i < maxErrorHistory+25; i++ {
		s.setError(model.ErrNetworkError, "probe failed", i)
	}

	hist := s.ErrorHistory()
	assert.Len(t, hist, maxErrorHistory)
	// FIFO eviction: the oldest 25 records are gone.
	assert.Equal(t, 25, hist[0].RetryCount)
}

func TestHTTPSourceCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"uplink": 512, "downlink": 2048, "uplink_packets": 5, "downlink_packets": 20}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	c, err := src.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2048), c.BytesReceived)
	assert.Equal(t, int64(512), c.BytesSent)
	assert.Equal(t, int64(20), c.PacketsReceived)
	assert.Equal(t, int64(5), c.PacketsSent)
}

func TestHTTPSourceBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).Counters(context.Background())
	assert.Error(t, err)
}
