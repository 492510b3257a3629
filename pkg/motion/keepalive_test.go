// Tests for the motion keep-alive
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"testing"

	"probetherm/pkg/config"
	"probetherm/pkg/reactor"
)

func newTestKeepAlive(t *testing.T, cfgData string) *KeepAlive {
	t.Helper()
	cfg, err := config.LoadString(cfgData)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	r := reactor.New()
	t.Cleanup(r.End)
	ka, err := New(cfg, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ka
}

func TestDefaultTimeout(t *testing.T) {
	ka := newTestKeepAlive(t, "")
	if ka.Timeout() != 600.0 {
		t.Errorf("Timeout = %v, want default 600", ka.Timeout())
	}
}

func TestConfiguredTimeout(t *testing.T) {
	ka := newTestKeepAlive(t, "[idle_timeout]\ntimeout: 5\n")
	if ka.Timeout() != 5.0 {
		t.Errorf("Timeout = %v, want 5", ka.Timeout())
	}
}

func TestIdleAfterTimeout(t *testing.T) {
	ka := newTestKeepAlive(t, "[idle_timeout]\ntimeout: 10\n")

	var idled int
	ka.OnIdle(func() { idled++ })

	ka.lastActivity = 100.0
	ka.checkEvent(105.0)
	if ka.State() == StateIdle {
		t.Fatal("went idle before the timeout elapsed")
	}
	ka.checkEvent(110.0)
	if ka.State() != StateIdle {
		t.Fatalf("state = %q after timeout, want idle", ka.State())
	}
	if idled != 1 {
		t.Errorf("idle callbacks ran %d times, want 1", idled)
	}

	// Already idle: expiry must not refire the callbacks.
	ka.checkEvent(120.0)
	if idled != 1 {
		t.Errorf("idle callbacks refired, ran %d times", idled)
	}
}

func TestFreshActivityDefersIdle(t *testing.T) {
	ka := newTestKeepAlive(t, "[idle_timeout]\ntimeout: 10\n")

	var idled int
	ka.OnIdle(func() { idled++ })

	ka.lastActivity = 100.0
	ka.checkEvent(109.0)
	ka.mu.Lock()
	ka.lastActivity = 109.0
	ka.mu.Unlock()

	ka.checkEvent(110.0)
	if ka.State() == StateIdle || idled != 0 {
		t.Fatalf("deadline not refreshed: state=%q idled=%d", ka.State(), idled)
	}
	ka.checkEvent(119.0)
	if ka.State() != StateIdle || idled != 1 {
		t.Errorf("expiry after refreshed deadline: state=%q idled=%d", ka.State(), idled)
	}
}

func TestRearmStampsActivity(t *testing.T) {
	ka := newTestKeepAlive(t, "")
	ka.mu.Lock()
	ka.lastActivity = -100.0
	ka.mu.Unlock()

	ka.Rearm()
	ka.mu.Lock()
	stamped := ka.lastActivity
	ka.mu.Unlock()
	if stamped < 0 {
		t.Error("Rearm did not refresh the activity stamp")
	}
}

func TestStateDropsToReady(t *testing.T) {
	ka := newTestKeepAlive(t, "")

	ka.Rearm()
	if ka.State() != StateActive {
		t.Fatalf("state after Rearm = %q, want active", ka.State())
	}
	ka.mu.Lock()
	ka.lastActivity = 50.0
	ka.mu.Unlock()
	ka.checkEvent(51.0)
	if ka.State() != StateReady {
		t.Errorf("state = %q after inactivity, want ready", ka.State())
	}
}

func TestRearmWakesFromIdle(t *testing.T) {
	ka := newTestKeepAlive(t, "[idle_timeout]\ntimeout: 10\n")
	ka.lastActivity = 0
	ka.checkEvent(10.0)
	if ka.State() != StateIdle {
		t.Fatal("setup: not idle")
	}

	ka.Rearm()
	if ka.State() != StateActive {
		t.Errorf("state after wake = %q, want active", ka.State())
	}
}

func TestHeartbeatHook(t *testing.T) {
	ka := newTestKeepAlive(t, "")

	var beats int
	ka.SetHeartbeat(func() { beats++ })
	ka.Rearm()
	ka.Rearm()
	ka.Rearm()
	if beats != 3 {
		t.Errorf("heartbeats = %d, want 3", beats)
	}
}

func TestGetStatus(t *testing.T) {
	ka := newTestKeepAlive(t, "[idle_timeout]\ntimeout: 42\n")
	ka.mu.Lock()
	ka.lastActivity = 10.0
	ka.mu.Unlock()

	status := ka.GetStatus(15.0)
	if status["state"] != StateReady {
		t.Errorf("status state = %v", status["state"])
	}
	if status["idle_timeout"] != 42.0 {
		t.Errorf("status idle_timeout = %v", status["idle_timeout"])
	}
	if status["since_activity"] != 5.0 {
		t.Errorf("status since_activity = %v", status["since_activity"])
	}
}
