// Package model defines core data structures for tunnelguard.
package model

import "time"

// NetworkState classifies the host's overall network connectivity.
// It is derived from the interface snapshot, never set directly.
type NetworkState int

const (
	NetworkUnknown NetworkState = iota
	NetworkDisconnected
	NetworkConnectedNoInternet
	NetworkConnectedWifi
	NetworkConnectedEthernet
	NetworkConnectedOther
)

// String returns a human-readable network state name.
func (s NetworkState) String() string {
	switch s {
	case NetworkDisconnected:
		return "Disconnected"
	case NetworkConnectedNoInternet:
		return "Connected (No Internet)"
	case NetworkConnectedWifi:
		return "Connected (WiFi)"
	case NetworkConnectedEthernet:
		return "Connected (Ethernet)"
	case NetworkConnectedOther:
		return "Connected (Other)"
	default:
		return "Unknown"
	}
}

// ConnectionHealth is the verdict of the periodic health check.
type ConnectionHealth int

const (
	HealthUnknown ConnectionHealth = iota
	HealthGood
	HealthPoor
	HealthDisconnected
)

// String returns a human-readable health name.
func (h ConnectionHealth) String() string {
	switch h {
	case HealthGood:
		return "Good"
	case HealthPoor:
		return "Poor"
	case HealthDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// ReconnectionStatus is the reconnection engine's state.
type ReconnectionStatus int

const (
	ReconnectIdle ReconnectionStatus = iota
	ReconnectAttempting
	ReconnectSuccess
	ReconnectFailed
)

// String returns a human-readable reconnection status name.
func (s ReconnectionStatus) String() string {
	switch s {
	case ReconnectIdle:
		return "Idle"
	case ReconnectAttempting:
		return "Attempting"
	case ReconnectSuccess:
		return "Success"
	case ReconnectFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// InterfaceInfo is a point-in-time snapshot of one network interface.
// Snapshots are replaced wholesale on each enumeration, never mutated.
type InterfaceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Index       int    `json:"index"`
	Connected   bool   `json:"connected"`
	HasInternet bool   `json:"has_internet"`
	IsWifi      bool   `json:"is_wifi"`
	IsEthernet  bool   `json:"is_ethernet"`
	IPAddress   string `json:"ip_address"`
	Gateway     string `json:"gateway"`
	LinkSpeed   int64  `json:"link_speed"`
}

// ReconnectionAttempt records one reconnection attempt. Immutable once
// recorded.
type ReconnectionAttempt struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Success   bool      `json:"success"`
}

// StatsSample holds cumulative engine counters plus derived rates for a
// single collection tick. Speeds are bytes per second.
type StatsSample struct {
	ID                 int64         `json:"id"`
	BytesReceived      int64         `json:"bytes_received"`
	BytesSent          int64         `json:"bytes_sent"`
	PacketsReceived    int64         `json:"packets_received"`
	PacketsSent        int64         `json:"packets_sent"`
	DownloadSpeed      float64       `json:"download_speed"`
	UploadSpeed        float64       `json:"upload_speed"`
	ConnectionDuration time.Duration `json:"connection_duration"`
	Timestamp          time.Time     `json:"timestamp"`
}

// ErrorRecord captures a recorded failure with the retry count at the
// time it occurred.
type ErrorRecord struct {
	ID         int64     `json:"id"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}

// DiagnosticReport is a snapshot of supervisor internals for the status
// file and web API.
type DiagnosticReport struct {
	Initialized    bool      `json:"initialized"`
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	ExecutablePath string    `json:"executable_path"`
	ConfigFilePath string    `json:"config_file_path"`
	StartTime      time.Time `json:"start_time,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorMsg   string    `json:"last_error_message,omitempty"`
}
