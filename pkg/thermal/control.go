// Heater control algorithms
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"math"

	"probetherm/pkg/errors"
)

const (
	// PIDParamBase is the base for PID parameter normalization
	PIDParamBase = 255.0

	// PIDSettleDelta is the temperature delta for PID settlement
	PIDSettleDelta = 1.0

	// PIDSettleSlope is the temperature slope for PID settlement
	PIDSettleSlope = 0.1
)

// Control computes heater power from temperature readings.
type Control interface {
	// Update is called on every reading and returns the power (0..max).
	Update(readTime, temp, targetTemp float64) float64

	// CheckBusy reports whether the heater is still moving to target.
	CheckBusy(eventtime, smoothedTemp, targetTemp float64) bool
}

// ControlBangBang is simple on/off control with hysteresis.
type ControlBangBang struct {
	maxPower float64
	maxDelta float64
	heating  bool
}

// NewControlBangBang creates a bang-bang controller.
func NewControlBangBang(cfg *HeaterConfig) (*ControlBangBang, error) {
	if cfg.MaxDelta <= 0 {
		return nil, errors.ThermalHeaterError(cfg.Name, "max_delta must be positive")
	}
	return &ControlBangBang{
		maxPower: cfg.MaxPower,
		maxDelta: cfg.MaxDelta,
	}, nil
}

// Update turns the heater on below target-max_delta and off above
// target+max_delta.
func (c *ControlBangBang) Update(readTime, temp, targetTemp float64) float64 {
	if c.heating && temp >= targetTemp+c.maxDelta {
		c.heating = false
	} else if !c.heating && temp <= targetTemp-c.maxDelta {
		c.heating = true
	}
	if c.heating {
		return c.maxPower
	}
	return 0.0
}

// CheckBusy reports whether the heater is still below its band.
func (c *ControlBangBang) CheckBusy(eventtime, smoothedTemp, targetTemp float64) bool {
	return smoothedTemp < targetTemp-c.maxDelta
}

// ControlPID is positional PID control with an integral clamp.
type ControlPID struct {
	maxPower     float64
	kp           float64
	ki           float64
	kd           float64
	minDerivTime float64
	tempIntegMax float64

	prevTemp      float64
	prevTempTime  float64
	prevTempDeriv float64
	prevTempInteg float64
}

// NewControlPID creates a PID controller. Gains are given in the
// firmware-conventional 0..255 scale and normalized here.
func NewControlPID(cfg *HeaterConfig) (*ControlPID, error) {
	if cfg.PidKp == 0 || cfg.PidKi == 0 || cfg.PidKd == 0 {
		return nil, errors.ThermalHeaterError(cfg.Name, "pid_kp, pid_ki and pid_kd must be non-zero")
	}
	ki := cfg.PidKi / PIDParamBase
	var integMax float64
	if ki != 0 {
		integMax = cfg.MaxPower / ki
	}
	return &ControlPID{
		maxPower:     cfg.MaxPower,
		kp:           cfg.PidKp / PIDParamBase,
		ki:           ki,
		kd:           cfg.PidKd / PIDParamBase,
		minDerivTime: cfg.SmoothTime,
		tempIntegMax: integMax,
		prevTemp:     AmbientTemp,
	}, nil
}

// Update runs one PID step.
func (c *ControlPID) Update(readTime, temp, targetTemp float64) float64 {
	timeDiff := readTime - c.prevTempTime

	var tempDeriv float64
	if timeDiff >= c.minDerivTime {
		tempDeriv = (temp - c.prevTemp) / timeDiff
	} else {
		tempDiff := temp - c.prevTemp
		tempDeriv = (c.prevTempDeriv*(c.minDerivTime-timeDiff) + tempDiff) / c.minDerivTime
	}

	tempErr := targetTemp - temp

	tempInteg := c.prevTempInteg + tempErr*timeDiff
	if c.tempIntegMax > 0 {
		tempInteg = math.Max(0.0, math.Min(c.tempIntegMax, tempInteg))
	}

	co := c.kp*tempErr + c.ki*tempInteg - c.kd*tempDeriv
	bounded := math.Max(0.0, math.Min(c.maxPower, co))

	c.prevTemp = temp
	c.prevTempTime = readTime
	c.prevTempDeriv = tempDeriv
	// Freeze the integral while the output saturates
	if co == bounded {
		c.prevTempInteg = tempInteg
	}

	return bounded
}

// CheckBusy reports whether the temperature has settled at target.
func (c *ControlPID) CheckBusy(eventtime, smoothedTemp, targetTemp float64) bool {
	tempDiff := targetTemp - smoothedTemp
	return math.Abs(tempDiff) > PIDSettleDelta || math.Abs(c.prevTempDeriv) > PIDSettleSlope
}
