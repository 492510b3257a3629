// Package safety tracks the controller's shutdown state and runs the
// host-side watchdog. Any subsystem can latch a fault; once latched, every
// registered shutdown callback runs exactly once and the controller stays
// off until an explicit Reset.
package safety

import (
	"fmt"
	"sync"
	"time"

	"probetherm/pkg/config"
	"probetherm/pkg/errors"
	"probetherm/pkg/log"
)

// State describes where the controller is in its shutdown lifecycle.
type State int

const (
	StateRunning State = iota
	StateShuttingDown
	StateShutdown
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state is final until Reset.
func (s State) Terminal() bool {
	return s == StateShutdown || s == StateError
}

// Reason records what triggered a shutdown.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonEmergencyStop   Reason = "emergency_stop"
	ReasonThermalFault    Reason = "thermal_fault"
	ReasonWatchdogTimeout Reason = "watchdog_timeout"
	ReasonUserRequest     Reason = "user_request"
)

const defaultWatchdogWindow = 5.0

// Manager owns the shutdown state machine and the heartbeat watchdog.
type Manager struct {
	mu           sync.Mutex
	state        State
	reason       Reason
	message      string
	shutdownTime time.Time
	onShutdown   []func(Reason, string)

	wdMu          sync.Mutex
	wdWindow      time.Duration
	lastHeartbeat time.Time
	wdStop        chan struct{}
	wdRunning     bool
}

// New builds a Manager. The optional [safety] config section tunes the
// watchdog window:
//
//	[safety]
//	watchdog_timeout: 5.0
func New(cfg *config.Config) (*Manager, error) {
	window := defaultWatchdogWindow
	if sec := cfg.GetSectionOptional("safety"); sec != nil {
		zero := 0.0
		w, err := sec.GetFloatWithBounds("watchdog_timeout",
			config.FloatBounds{Above: &zero}, defaultWatchdogWindow)
		if err != nil {
			return nil, err
		}
		window = w
	}
	return &Manager{
		state:    StateRunning,
		wdWindow: time.Duration(window * float64(time.Second)),
	}, nil
}

// OnShutdown registers a callback to run when a shutdown latches. Callbacks
// run in registration order, after the final state is set.
func (m *Manager) OnShutdown(fn func(reason Reason, message string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// EmergencyStop latches an operator-initiated halt (M112).
func (m *Manager) EmergencyStop(message string) {
	m.invokeShutdown(ReasonEmergencyStop, message)
}

// ThermalFault latches a shutdown caused by a heater or sensor fault.
func (m *Manager) ThermalFault(channel string, err error) {
	m.invokeShutdown(ReasonThermalFault, fmt.Sprintf("%s: %v", channel, err))
}

// UserRequest latches an orderly shutdown. Unlike the fault paths it leaves
// the controller in StateShutdown rather than StateError.
func (m *Manager) UserRequest(message string) {
	m.invokeShutdown(ReasonUserRequest, message)
}

func (m *Manager) watchdogTimeout() {
	m.invokeShutdown(ReasonWatchdogTimeout,
		fmt.Sprintf("no heartbeat within %v", m.wdWindow))
}

func (m *Manager) invokeShutdown(reason Reason, message string) {
	m.mu.Lock()
	if m.state.Terminal() || m.state == StateShuttingDown {
		m.mu.Unlock()
		return
	}
	m.state = StateShuttingDown
	m.reason = reason
	m.message = message
	m.shutdownTime = time.Now()
	callbacks := make([]func(Reason, string), len(m.onShutdown))
	copy(callbacks, m.onShutdown)
	m.mu.Unlock()

	m.StopWatchdog()

	log.Error("shutdown: %s (%s)", message, reason)

	final := StateError
	if reason == ReasonUserRequest {
		final = StateShutdown
	}
	m.mu.Lock()
	m.state = final
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason, message)
	}
}

// CheckOperational returns an error when the controller has latched a
// shutdown. Command handlers call this before acting on hardware.
func (m *Manager) CheckOperational() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		return nil
	}
	return errors.New(errors.ErrShutdown,
		fmt.Sprintf("controller is %s: %s", m.state, m.message))
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns what triggered the current shutdown, if any.
func (m *Manager) Reason() Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Reset clears a terminal state so the controller can run again. Resetting
// a live controller is rejected.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Terminal() {
		return errors.New(errors.ErrShutdown,
			fmt.Sprintf("cannot reset while %s", m.state))
	}
	log.Info("safety reset after %s", m.reason)
	m.state = StateRunning
	m.reason = ReasonNone
	m.message = ""
	m.shutdownTime = time.Time{}
	return nil
}

// StartWatchdog begins heartbeat monitoring. A missing heartbeat for the
// configured window latches a watchdog shutdown.
func (m *Manager) StartWatchdog() {
	m.wdMu.Lock()
	defer m.wdMu.Unlock()
	if m.wdRunning {
		return
	}
	m.lastHeartbeat = time.Now()
	m.wdStop = make(chan struct{})
	m.wdRunning = true
	go m.watchdogLoop(m.wdStop)
}

// StopWatchdog halts heartbeat monitoring.
func (m *Manager) StopWatchdog() {
	m.wdMu.Lock()
	defer m.wdMu.Unlock()
	if !m.wdRunning {
		return
	}
	close(m.wdStop)
	m.wdRunning = false
}

// Heartbeat marks the command loop alive.
func (m *Manager) Heartbeat() {
	m.wdMu.Lock()
	m.lastHeartbeat = time.Now()
	m.wdMu.Unlock()
}

func (m *Manager) watchdogLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.checkInterval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.wdMu.Lock()
			stale := time.Since(m.lastHeartbeat) > m.wdWindow
			m.wdMu.Unlock()
			if stale {
				m.watchdogTimeout()
				return
			}
		}
	}
}

// checkInterval derives the poll cadence from the window so short test
// windows are caught promptly.
func (m *Manager) checkInterval() time.Duration {
	interval := m.wdWindow / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	return interval
}

// WatchdogWindow returns the configured heartbeat window.
func (m *Manager) WatchdogWindow() time.Duration {
	return m.wdWindow
}

// GetStatus reports the shutdown state for status queries.
func (m *Manager) GetStatus(eventtime float64) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := map[string]interface{}{
		"state":  m.state.String(),
		"reason": string(m.reason),
	}
	if m.message != "" {
		status["message"] = m.message
	}
	if !m.shutdownTime.IsZero() {
		status["since"] = m.shutdownTime.UTC().Format(time.RFC3339)
	}
	return status
}
