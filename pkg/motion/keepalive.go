// Motion keep-alive and idle timeout
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package motion keeps the motion subsystem powered while commands
// are active. Stepper drivers drop to idle after a configurable
// period without activity; Rearm refreshes the deadline and is the
// call blocking commands must keep making. Expiry runs the registered
// power-down callbacks.
package motion

import (
	"sync"

	"probetherm/pkg/config"
	"probetherm/pkg/log"
	"probetherm/pkg/reactor"
)

// States reported by the keep-alive.
const (
	StateIdle   = "idle"
	StateReady  = "ready"
	StateActive = "active"
)

const (
	defaultTimeout = 600.0
	// readyDelay is how long after the last activity the state drops
	// from active to ready.
	readyDelay = 0.5
	// checkInterval is the expiry poll cadence.
	checkInterval = 1.0
)

// KeepAlive tracks motion activity in reactor time.
type KeepAlive struct {
	reactor *reactor.Reactor

	mu           sync.Mutex
	timeout      float64
	state        string
	lastActivity float64

	onIdle      []func()
	heartbeat   func()
	checkTimer  *reactor.Timer
}

// New builds the keep-alive from the optional [idle_timeout] section.
func New(cfg *config.Config, r *reactor.Reactor) (*KeepAlive, error) {
	ka := &KeepAlive{
		reactor: r,
		timeout: defaultTimeout,
		state:   StateReady,
	}
	if sec := cfg.GetSectionOptional("idle_timeout"); sec != nil {
		zero := 0.0
		timeout, err := sec.GetFloatWithBounds("timeout",
			config.FloatBounds{Above: &zero}, defaultTimeout)
		if err != nil {
			return nil, err
		}
		ka.timeout = timeout
	}
	return ka, nil
}

// OnIdle registers a callback run when the timeout expires. Callbacks
// power down motors and heaters.
func (ka *KeepAlive) OnIdle(fn func()) {
	ka.mu.Lock()
	ka.onIdle = append(ka.onIdle, fn)
	ka.mu.Unlock()
}

// SetHeartbeat registers a hook invoked on every Rearm. The runtime
// points it at the safety watchdog so a healthy command loop keeps
// both fed.
func (ka *KeepAlive) SetHeartbeat(fn func()) {
	ka.mu.Lock()
	ka.heartbeat = fn
	ka.mu.Unlock()
}

// Start begins expiry checking on the reactor.
func (ka *KeepAlive) Start() {
	ka.mu.Lock()
	ka.lastActivity = ka.reactor.Monotonic()
	ka.mu.Unlock()
	ka.checkTimer = ka.reactor.RegisterTimer(ka.checkEvent, reactor.NOW)
}

// Rearm refreshes the idle deadline. Blocking commands call it every
// loop iteration; skipping it long enough powers the motion
// subsystem down mid-command.
func (ka *KeepAlive) Rearm() {
	ka.mu.Lock()
	ka.lastActivity = ka.reactor.Monotonic()
	wasIdle := ka.state == StateIdle
	ka.state = StateActive
	heartbeat := ka.heartbeat
	ka.mu.Unlock()

	if wasIdle {
		log.GetLogger("motion").Info("motion subsystem woken")
	}
	if heartbeat != nil {
		heartbeat()
	}
}

func (ka *KeepAlive) checkEvent(eventtime float64) float64 {
	ka.mu.Lock()
	elapsed := eventtime - ka.lastActivity
	state := ka.state
	var callbacks []func()
	switch {
	case state != StateIdle && elapsed >= ka.timeout:
		ka.state = StateIdle
		callbacks = append(callbacks, ka.onIdle...)
	case state == StateActive && elapsed >= readyDelay:
		ka.state = StateReady
	}
	ka.mu.Unlock()

	if callbacks != nil {
		log.GetLogger("motion").
			WithField("idle_timeout", ka.timeout).Info("idle timeout reached, powering down")
		for _, fn := range callbacks {
			fn()
		}
	}
	return eventtime + checkInterval
}

// State returns idle, ready or active.
func (ka *KeepAlive) State() string {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.state
}

// Timeout returns the configured idle timeout in seconds.
func (ka *KeepAlive) Timeout() float64 {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.timeout
}

// GetStatus returns the keep-alive state for the API.
func (ka *KeepAlive) GetStatus(eventtime float64) map[string]interface{} {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	since := eventtime - ka.lastActivity
	if since < 0 {
		since = 0
	}
	return map[string]interface{}{
		"state":          ka.state,
		"idle_timeout":   ka.timeout,
		"since_activity": since,
	}
}

// Shutdown stops expiry checking.
func (ka *KeepAlive) Shutdown() {
	if ka.checkTimer != nil {
		ka.reactor.UnregisterTimer(ka.checkTimer)
		ka.checkTimer = nil
	}
}
