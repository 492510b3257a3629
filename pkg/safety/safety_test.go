package safety

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"probetherm/pkg/config"
	"probetherm/pkg/errors"
)

func newTestManager(t *testing.T, configData string) *Manager {
	t.Helper()
	cfg, err := config.LoadString(configData)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewStartsRunning(t *testing.T) {
	m := newTestManager(t, "")
	if m.State() != StateRunning {
		t.Errorf("initial state = %q, want running", m.State())
	}
	if m.Reason() != ReasonNone {
		t.Errorf("initial reason = %q, want none", m.Reason())
	}
	if m.WatchdogWindow() != 5*time.Second {
		t.Errorf("default window = %v, want 5s", m.WatchdogWindow())
	}
}

func TestConfiguredWatchdogWindow(t *testing.T) {
	m := newTestManager(t, "[safety]\nwatchdog_timeout: 2.5\n")
	if m.WatchdogWindow() != 2500*time.Millisecond {
		t.Errorf("window = %v, want 2.5s", m.WatchdogWindow())
	}
}

func TestWatchdogWindowRejectsZero(t *testing.T) {
	cfg, err := config.LoadString("[safety]\nwatchdog_timeout: 0\n")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if _, err := New(cfg); err == nil {
		t.Error("expected config error for zero watchdog window")
	}
}

func TestEmergencyStopLatchesError(t *testing.T) {
	m := newTestManager(t, "")
	m.EmergencyStop("operator hit the button")

	if m.State() != StateError {
		t.Errorf("state = %q, want error", m.State())
	}
	if m.Reason() != ReasonEmergencyStop {
		t.Errorf("reason = %q, want emergency_stop", m.Reason())
	}
}

func TestUserRequestIsOrderly(t *testing.T) {
	m := newTestManager(t, "")
	m.UserRequest("going home")

	if m.State() != StateShutdown {
		t.Errorf("state = %q, want shutdown", m.State())
	}
	if m.Reason() != ReasonUserRequest {
		t.Errorf("reason = %q, want user_request", m.Reason())
	}
}

func TestThermalFaultMessage(t *testing.T) {
	m := newTestManager(t, "")
	var gotMsg string
	m.OnShutdown(func(_ Reason, msg string) { gotMsg = msg })

	m.ThermalFault("extruder", fmt.Errorf("runaway detected"))

	if m.Reason() != ReasonThermalFault {
		t.Errorf("reason = %q, want thermal_fault", m.Reason())
	}
	if !strings.Contains(gotMsg, "extruder") || !strings.Contains(gotMsg, "runaway") {
		t.Errorf("callback message %q missing channel or cause", gotMsg)
	}
}

func TestCallbacksRunOnceInOrder(t *testing.T) {
	m := newTestManager(t, "")
	var order []string
	m.OnShutdown(func(r Reason, _ string) { order = append(order, "first:"+string(r)) })
	m.OnShutdown(func(r Reason, _ string) { order = append(order, "second:"+string(r)) })

	m.EmergencyStop("halt")
	m.EmergencyStop("halt again")
	m.UserRequest("too late")

	want := []string{"first:emergency_stop", "second:emergency_stop"}
	if len(order) != len(want) {
		t.Fatalf("callbacks ran %d times, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("callback[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if m.Reason() != ReasonEmergencyStop {
		t.Errorf("reason overwritten to %q", m.Reason())
	}
}

func TestCallbackSeesFinalState(t *testing.T) {
	m := newTestManager(t, "")
	var seen State
	m.OnShutdown(func(Reason, string) { seen = m.State() })

	m.EmergencyStop("halt")
	if seen != StateError {
		t.Errorf("callback observed state %q, want error", seen)
	}
}

func TestCheckOperational(t *testing.T) {
	m := newTestManager(t, "")
	if err := m.CheckOperational(); err != nil {
		t.Fatalf("running controller reported %v", err)
	}

	m.EmergencyStop("halt")
	err := m.CheckOperational()
	if err == nil {
		t.Fatal("expected error after shutdown")
	}
	if !errors.Is(err, errors.ErrShutdown) {
		t.Errorf("error code = %v, want shutdown", err)
	}
	if !strings.Contains(err.Error(), "halt") {
		t.Errorf("error %q missing shutdown message", err)
	}
}

func TestResetRules(t *testing.T) {
	m := newTestManager(t, "")
	if err := m.Reset(); err == nil {
		t.Error("reset of a running controller must be rejected")
	}

	m.EmergencyStop("halt")
	if err := m.Reset(); err != nil {
		t.Fatalf("reset from error state: %v", err)
	}
	if m.State() != StateRunning || m.Reason() != ReasonNone {
		t.Errorf("after reset: state=%q reason=%q", m.State(), m.Reason())
	}
	if err := m.CheckOperational(); err != nil {
		t.Errorf("controller not operational after reset: %v", err)
	}
}

func TestWatchdogTripsWithoutHeartbeat(t *testing.T) {
	m := newTestManager(t, "[safety]\nwatchdog_timeout: 0.05\n")
	tripped := make(chan Reason, 1)
	m.OnShutdown(func(r Reason, _ string) { tripped <- r })

	m.StartWatchdog()
	defer m.StopWatchdog()

	select {
	case r := <-tripped:
		if r != ReasonWatchdogTimeout {
			t.Errorf("reason = %q, want watchdog_timeout", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never tripped")
	}
	if m.State() != StateError {
		t.Errorf("state = %q, want error", m.State())
	}
}

func TestHeartbeatKeepsWatchdogQuiet(t *testing.T) {
	m := newTestManager(t, "[safety]\nwatchdog_timeout: 0.08\n")
	m.StartWatchdog()
	defer m.StopWatchdog()

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Heartbeat()
		time.Sleep(10 * time.Millisecond)
	}
	if m.State() != StateRunning {
		t.Errorf("state = %q after steady heartbeats, want running", m.State())
	}
}

func TestStopWatchdogPreventsTrip(t *testing.T) {
	m := newTestManager(t, "[safety]\nwatchdog_timeout: 0.05\n")
	m.StartWatchdog()
	m.StopWatchdog()

	time.Sleep(120 * time.Millisecond)
	if m.State() != StateRunning {
		t.Errorf("state = %q after watchdog stopped, want running", m.State())
	}
}

func TestStartWatchdogIdempotent(t *testing.T) {
	m := newTestManager(t, "[safety]\nwatchdog_timeout: 10\n")
	m.StartWatchdog()
	m.StartWatchdog()
	m.StopWatchdog()
	m.StopWatchdog()
}

func TestCheckIntervalClamped(t *testing.T) {
	cases := []struct {
		window float64
		want   time.Duration
	}{
		{0.02, 10 * time.Millisecond},
		{0.2, 50 * time.Millisecond},
		{60, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		m := newTestManager(t, fmt.Sprintf("[safety]\nwatchdog_timeout: %g\n", tc.window))
		if got := m.checkInterval(); got != tc.want {
			t.Errorf("checkInterval(window=%gs) = %v, want %v", tc.window, got, tc.want)
		}
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateRunning:      "running",
		StateShuttingDown: "shutting_down",
		StateShutdown:     "shutdown",
		StateError:        "error",
	}
	for state, want := range cases {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), state.String(), want)
		}
	}
	if !StateShutdown.Terminal() || !StateError.Terminal() {
		t.Error("shutdown and error must be terminal")
	}
	if StateRunning.Terminal() || StateShuttingDown.Terminal() {
		t.Error("running and shutting_down must not be terminal")
	}
}

func TestGetStatus(t *testing.T) {
	m := newTestManager(t, "")
	status := m.GetStatus(0)
	if status["state"] != "running" {
		t.Errorf("state = %v, want running", status["state"])
	}
	if _, ok := status["message"]; ok {
		t.Error("running status should not carry a message")
	}

	m.EmergencyStop("halt")
	status = m.GetStatus(0)
	if status["state"] != "error" || status["reason"] != "emergency_stop" {
		t.Errorf("status after stop = %v", status)
	}
	if status["message"] != "halt" {
		t.Errorf("message = %v, want halt", status["message"])
	}
	if _, ok := status["since"]; !ok {
		t.Error("shutdown status missing timestamp")
	}
}
