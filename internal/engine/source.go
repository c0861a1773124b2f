package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Counters are the engine's cumulative traffic counters.
type Counters struct {
	BytesReceived   int64
	BytesSent       int64
	PacketsReceived int64
	PacketsSent     int64
}

// CounterSource is a black-box query for the engine's cumulative
// counters. The engine's internals stay opaque; only these totals are
// observed.
type CounterSource interface {
	Counters(ctx context.Context) (Counters, error)
}

// zeroSource is used when no stats channel is configured. Collection
// still runs and produces duration-only samples.
type zeroSource struct{}

func (zeroSource) Counters(ctx context.Context) (Counters, error) {
	return Counters{}, nil
}

// HTTPSource reads counters from the engine's local stats endpoint. The
// endpoint returns a JSON object with uplink/downlink byte and packet
// totals.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSource creates a counter source for the given endpoint URL.
func NewHTTPSource(endpoint string) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

type statsPayload struct {
	Uplink          int64 `json:"uplink"`
	Downlink        int64 `json:"downlink"`
	UplinkPackets   int64 `json:"uplink_packets"`
	DownlinkPackets int64 `json:"downlink_packets"`
}

// Counters implements CounterSource.
func (h *HTTPSource) Counters(ctx context.Context) (Counters, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return Counters{}, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Counters{}, fmt.Errorf("stats endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Counters{}, fmt.Errorf("stats endpoint returned status %d", resp.StatusCode)
	}

	var payload statsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Counters{}, fmt.Errorf("failed to decode stats payload: %w", err)
	}

	return Counters{
		BytesReceived:   payload.Downlink,
		BytesSent:       payload.Uplink,
		PacketsReceived: payload.DownlinkPackets,
		PacketsSent:     payload.UplinkPackets,
	}, nil
}
