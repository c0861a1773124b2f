// Package event defines the upward notification interface between the
// supervision core and the surrounding application.
package event

import (
	"sync"

	"github.com/user/tunnelguard/internal/model"
)

// Sink consumes state, stat and error notifications. State-change
// callbacks fire only on an actual value transition; stats and error
// callbacks may repeat. Callbacks are invoked on whichever internal
// goroutine produced the event, so implementations must be safe to call
// from arbitrary workers.
type Sink interface {
	NetworkStateChanged(state model.NetworkState)
	ConnectionHealthChanged(health model.ConnectionHealth)
	ReconnectionStatusChanged(status model.ReconnectionStatus, attempt int)
	StatsUpdated(raw, smoothed model.StatsSample)
	ProcessError(rec model.ErrorRecord)
}

// Emitter fans events out to registered sinks. A nil *Emitter is valid
// and drops everything, so components can emit unconditionally.
type Emitter struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Register adds a sink. Sinks cannot be removed; the emitter lives as
// long as the monitoring session that owns it.
func (e *Emitter) Register(s Sink) {
	if e == nil || s == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

func (e *Emitter) each(fn func(Sink)) {
	if e == nil {
		return
	}
	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()
	for _, s := range sinks {
		fn(s)
	}
}

// NetworkStateChanged forwards a network state transition.
func (e *Emitter) NetworkStateChanged(state model.NetworkState) {
	e.each(func(s Sink) { s.NetworkStateChanged(state) })
}

// ConnectionHealthChanged forwards a health transition.
func (e *Emitter) ConnectionHealthChanged(health model.ConnectionHealth) {
	e.each(func(s Sink) { s.ConnectionHealthChanged(health) })
}

// ReconnectionStatusChanged forwards a reconnection status transition.
func (e *Emitter) ReconnectionStatusChanged(status model.ReconnectionStatus, attempt int) {
	e.each(func(s Sink) { s.ReconnectionStatusChanged(status, attempt) })
}

// StatsUpdated forwards a raw and smoothed sample pair.
func (e *Emitter) StatsUpdated(raw, smoothed model.StatsSample) {
	e.each(func(s Sink) { s.StatsUpdated(raw, smoothed) })
}

// ProcessError forwards an error record.
func (e *Emitter) ProcessError(rec model.ErrorRecord) {
	e.each(func(s Sink) { s.ProcessError(rec) })
}

// Funcs adapts plain functions to the Sink interface. Nil fields are
// ignored.
type Funcs struct {
	OnNetworkState func(model.NetworkState)
	OnHealth       func(model.ConnectionHealth)
	OnReconnection func(model.ReconnectionStatus, int)
	OnStats        func(raw, smoothed model.StatsSample)
	OnError        func(model.ErrorRecord)
}

// NetworkStateChanged implements Sink.
func (f Funcs) NetworkStateChanged(state model.NetworkState) {
	if f.OnNetworkState != nil {
		f.OnNetworkState(state)
	}
}

// ConnectionHealthChanged implements Sink.
func (f Funcs) ConnectionHealthChanged(health model.ConnectionHealth) {
	if f.OnHealth != nil {
		f.OnHealth(health)
	}
}

// ReconnectionStatusChanged implements Sink.
func (f Funcs) ReconnectionStatusChanged(status model.ReconnectionStatus, attempt int) {
	if f.OnReconnection != nil {
		f.OnReconnection(status, attempt)
	}
}

// StatsUpdated implements Sink.
func (f Funcs) StatsUpdated(raw, smoothed model.StatsSample) {
	if f.OnStats != nil {
		f.OnStats(raw, smoothed)
	}
}

// ProcessError implements Sink.
func (f Funcs) ProcessError(rec model.ErrorRecord) {
	if f.OnError != nil {
		f.OnError(rec)
	}
}
