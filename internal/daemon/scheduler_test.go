package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsTriggeredJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	runs := 0

	s := NewScheduler(ctx)
	s.AddJob(&Job{
		Name:     "probe",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			mu.Lock()
			runs++
			mu.Unlock()
			return nil
		},
	})

	go s.Run()

	require.True(t, s.TriggerJob("probe"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.False(t, s.TriggerJob("missing"))
}

func TestSchedulerRecordsJobFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(ctx)
	s.AddJob(&Job{
		Name:     "flaky",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			return errors.New("boom")
		},
	})

	go s.Run()
	require.True(t, s.TriggerJob("flaky"))

	require.Eventually(t, func() bool {
		for _, st := range s.GetJobStatuses() {
			if st.Name == "flaky" && st.ErrorCount == 1 {
				return st.LastError == "boom"
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	// Failed jobs retry at half the interval.
	statuses := s.GetJobStatuses()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].NextRun.Before(time.Now().Add(31*time.Minute)))
}

func TestStatusFileRoundTrip(t *testing.T) {
	dir := t.TempDir()

	status := &Status{
		Running:         true,
		PID:             1234,
		StartTime:       time.Now().Add(-time.Minute),
		Uptime:          time.Minute,
		NetworkState:    "Connected (WiFi)",
		Health:          "Good",
		ReconnectStatus: "Idle",
		DownloadSpeed:   1500,
		UploadSpeed:     300,
	}
	status.Engine.Running = true
	status.Engine.PID = 5678

	require.NoError(t, WriteStatusFile(dir, status))

	sf, err := ReadStatusFile(dir)
	require.NoError(t, err)
	assert.True(t, sf.Running)
	assert.Equal(t, 1234, sf.PID)
	assert.True(t, sf.EngineRunning)
	assert.Equal(t, 5678, sf.EnginePID)
	assert.Equal(t, "Good", sf.Health)
	assert.Equal(t, 1500.0, sf.DownloadSpeed)
}

func TestCheckRunningWithoutPIDFile(t *testing.T) {
	running, pid := CheckRunning(t.TempDir())
	assert.False(t, running)
	assert.Zero(t, pid)
}
