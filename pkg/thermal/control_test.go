// Tests for heater control algorithms
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"testing"
)

func bangBangConfig() *HeaterConfig {
	return &HeaterConfig{
		Name:     "heater_bed",
		MaxPower: 1.0,
		MaxDelta: 2.0,
	}
}

func pidConfig() *HeaterConfig {
	return &HeaterConfig{
		Name:       "extruder",
		MaxPower:   1.0,
		SmoothTime: 1.0,
		PidKp:      22.2,
		PidKi:      1.08,
		PidKd:      114.0,
	}
}

func TestBangBangRequiresDelta(t *testing.T) {
	cfg := bangBangConfig()
	cfg.MaxDelta = 0
	if _, err := NewControlBangBang(cfg); err == nil {
		t.Fatalf("expected error for max_delta <= 0")
	}
}

func TestBangBangHysteresis(t *testing.T) {
	c, err := NewControlBangBang(bangBangConfig())
	if err != nil {
		t.Fatalf("NewControlBangBang: %v", err)
	}

	// Cold start well below target turns the heater on
	if power := c.Update(1.0, 25.0, 60.0); power != 1.0 {
		t.Errorf("power at 25/60 = %v, want full", power)
	}
	// Inside the band it stays on
	if power := c.Update(2.0, 61.0, 60.0); power != 1.0 {
		t.Errorf("power at 61/60 while heating = %v, want full", power)
	}
	// Above target+delta it switches off
	if power := c.Update(3.0, 62.5, 60.0); power != 0.0 {
		t.Errorf("power at 62.5/60 = %v, want off", power)
	}
	// Inside the band it stays off
	if power := c.Update(4.0, 59.0, 60.0); power != 0.0 {
		t.Errorf("power at 59/60 while idle = %v, want off", power)
	}
	// Below target-delta it switches back on
	if power := c.Update(5.0, 57.5, 60.0); power != 1.0 {
		t.Errorf("power at 57.5/60 = %v, want full", power)
	}
}

func TestBangBangCheckBusy(t *testing.T) {
	c, _ := NewControlBangBang(bangBangConfig())
	if !c.CheckBusy(0, 25.0, 60.0) {
		t.Errorf("25/60 should be busy")
	}
	if c.CheckBusy(0, 58.5, 60.0) {
		t.Errorf("58.5/60 is inside the band, should not be busy")
	}
}

func TestPIDRequiresGains(t *testing.T) {
	cfg := pidConfig()
	cfg.PidKi = 0
	if _, err := NewControlPID(cfg); err == nil {
		t.Fatalf("expected error for zero pid_ki")
	}
}

func TestPIDSaturatesWhenCold(t *testing.T) {
	c, err := NewControlPID(pidConfig())
	if err != nil {
		t.Fatalf("NewControlPID: %v", err)
	}
	power := c.Update(1.0, 25.0, 210.0)
	if power != 1.0 {
		t.Errorf("cold start power = %v, want saturated at max", power)
	}
}

func TestPIDBounded(t *testing.T) {
	c, _ := NewControlPID(pidConfig())
	var readTime float64
	for i := 0; i < 100; i++ {
		readTime += 0.3
		power := c.Update(readTime, 25.0, 210.0)
		if power < 0.0 || power > 1.0 {
			t.Fatalf("power %v outside [0,1] at t=%v", power, readTime)
		}
	}
}

func TestPIDIntegralFrozenWhileSaturated(t *testing.T) {
	c, _ := NewControlPID(pidConfig())
	var readTime float64
	for i := 0; i < 50; i++ {
		readTime += 0.3
		c.Update(readTime, 25.0, 210.0)
	}
	// A long saturated stretch must not wind up the integral past its
	// clamp
	if c.prevTempInteg > c.tempIntegMax {
		t.Errorf("integral %v exceeds clamp %v", c.prevTempInteg, c.tempIntegMax)
	}
}

func TestPIDCheckBusySettles(t *testing.T) {
	c, _ := NewControlPID(pidConfig())
	if !c.CheckBusy(0, 25.0, 210.0) {
		t.Errorf("far from target should be busy")
	}
	// Two identical readings at target zero the derivative
	c.Update(1.0, 210.0, 210.0)
	c.Update(2.0, 210.0, 210.0)
	if c.CheckBusy(3.0, 210.0, 210.0) {
		t.Errorf("settled at target should not be busy")
	}
}
