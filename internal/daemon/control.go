package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// CheckRunning checks if the daemon is already running.
func CheckRunning(dataDir string) (bool, int) {
	pidFile := filepath.Join(dataDir, "tunnelguard.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0
	}

	// Signal 0 probes for existence without delivering anything.
	if err := unix.Kill(pid, 0); err != nil {
		return false, 0
	}

	return true, pid
}

// SendStop sends a stop signal to the running daemon.
func SendStop(dataDir string) error {
	running, pid := CheckRunning(dataDir)
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}

	return nil
}

// StatusFile holds the serialized daemon status.
type StatusFile struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid"`
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`

	EngineRunning   bool    `json:"engine_running"`
	EnginePID       int     `json:"engine_pid"`
	NetworkState    string  `json:"network_state"`
	Health          string  `json:"health"`
	ReconnectStatus string  `json:"reconnect_status"`
	Attempts        int     `json:"attempts"`
	DownloadSpeed   float64 `json:"download_speed"`
	UploadSpeed     float64 `json:"upload_speed"`
	LastError       string  `json:"last_error,omitempty"`

	Jobs []JobStatus `json:"jobs"`
}

// WriteStatusFile writes the daemon status to the data directory.
func WriteStatusFile(dataDir string, status *Status) error {
	statusFile := filepath.Join(dataDir, "status.json")

	sf := StatusFile{
		Running:         status.Running,
		PID:             status.PID,
		StartTime:       status.StartTime.Format("2006-01-02 15:04:05"),
		Uptime:          status.Uptime.String(),
		EngineRunning:   status.Engine.Running,
		EnginePID:       status.Engine.PID,
		NetworkState:    status.NetworkState,
		Health:          status.Health,
		ReconnectStatus: status.ReconnectStatus,
		Attempts:        status.Attempts,
		DownloadSpeed:   status.DownloadSpeed,
		UploadSpeed:     status.UploadSpeed,
		LastError:       status.Engine.LastErrorMsg,
		Jobs:            status.Jobs,
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(statusFile, data, 0644)
}

// ReadStatusFile reads the daemon status from the data directory.
func ReadStatusFile(dataDir string) (*StatusFile, error) {
	statusFile := filepath.Join(dataDir, "status.json")

	data, err := os.ReadFile(statusFile)
	if err != nil {
		return nil, err
	}

	var sf StatusFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, err
	}

	return &sf, nil
}
