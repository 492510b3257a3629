// Heater channel control for the probetherm host
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"fmt"
	"math"
	"sync"

	"probetherm/pkg/errors"
)

// faultThreshold is the number of consecutive sensor read failures
// tolerated before the heater is declared faulted.
const faultThreshold = 3

// HeaterConfig describes one heater channel.
type HeaterConfig struct {
	Name       string
	MinTemp    float64
	MaxTemp    float64
	MaxPower   float64
	SmoothTime float64
	Control    string // "pid" or "bang_bang"
	PidKp      float64
	PidKi      float64
	PidKd      float64
	MaxDelta   float64 // bang_bang hysteresis
}

// Heater is a closed-loop heating channel: a sensor, a control
// algorithm and a power output.
type Heater struct {
	cfg    HeaterConfig
	sensor Sensor
	output Output

	mu           sync.Mutex
	lastTemp     float64
	smoothedTemp float64
	lastTempTime float64
	targetTemp   float64
	lastPower    float64
	control      Control
	readFaults   int
	faulted      bool

	onFault func(name string, err error)
}

// NewHeater creates a heater channel.
func NewHeater(cfg HeaterConfig, sensor Sensor, output Output) (*Heater, error) {
	if cfg.MinTemp < KelvinToCelsius {
		return nil, errors.ThermalHeaterError(cfg.Name,
			fmt.Sprintf("min_temp %.2f is below absolute zero", cfg.MinTemp))
	}
	if cfg.MaxTemp <= cfg.MinTemp {
		return nil, errors.ThermalHeaterError(cfg.Name,
			fmt.Sprintf("max_temp %.2f must be greater than min_temp %.2f", cfg.MaxTemp, cfg.MinTemp))
	}
	if cfg.MaxPower <= 0 || cfg.MaxPower > 1 {
		return nil, errors.ThermalHeaterError(cfg.Name, "max_power must be in (0, 1]")
	}
	if cfg.SmoothTime <= 0 {
		return nil, errors.ThermalHeaterError(cfg.Name, "smooth_time must be positive")
	}

	var control Control
	var err error
	if cfg.Control == "pid" {
		control, err = NewControlPID(&cfg)
	} else {
		control, err = NewControlBangBang(&cfg)
	}
	if err != nil {
		return nil, err
	}

	return &Heater{
		cfg:          cfg,
		sensor:       sensor,
		output:       output,
		control:      control,
		lastTemp:     AmbientTemp,
		smoothedTemp: AmbientTemp,
	}, nil
}

// Name returns the heater name.
func (h *Heater) Name() string {
	return h.cfg.Name
}

// update polls the sensor, runs the control algorithm and pushes the
// resulting power to the output. Called from the manager's sample
// timer.
func (h *Heater) update(eventtime float64) {
	temp, err := h.sensor.Read(eventtime)
	if err != nil {
		h.sensorFault(err)
		return
	}

	h.mu.Lock()
	h.readFaults = 0
	timeDiff := eventtime - h.lastTempTime
	h.lastTemp = temp
	h.lastTempTime = eventtime

	tempDiff := temp - h.smoothedTemp
	adjTime := math.Min(timeDiff/h.cfg.SmoothTime, 1.0)
	h.smoothedTemp += tempDiff * adjTime

	if !h.faulted && (temp < h.cfg.MinTemp || temp > h.cfg.MaxTemp) && h.targetTemp != 0 {
		h.mu.Unlock()
		h.rangeFault(temp)
		return
	}

	power := h.control.Update(eventtime, temp, h.targetTemp)
	if h.targetTemp <= 0 || h.faulted {
		power = 0
	}
	h.mu.Unlock()

	h.setPower(power)
}

func (h *Heater) sensorFault(err error) {
	h.mu.Lock()
	h.readFaults++
	trip := h.readFaults == faultThreshold && !h.faulted
	if trip {
		h.faulted = true
		h.targetTemp = 0
	}
	cb := h.onFault
	h.mu.Unlock()

	if trip {
		h.setPower(0)
		if cb != nil {
			cb(h.cfg.Name, err)
		}
	}
}

func (h *Heater) rangeFault(temp float64) {
	h.mu.Lock()
	h.faulted = true
	h.targetTemp = 0
	cb := h.onFault
	h.mu.Unlock()

	h.setPower(0)
	if cb != nil {
		cb(h.cfg.Name, errors.ThermalRangeError(h.cfg.Name, temp, h.cfg.MinTemp, h.cfg.MaxTemp))
	}
}

// setPower writes the duty to the output, suppressing insignificant
// changes.
func (h *Heater) setPower(value float64) {
	h.mu.Lock()
	if math.Abs(value-h.lastPower) < 0.01 {
		h.mu.Unlock()
		return
	}
	h.lastPower = value
	h.mu.Unlock()
	h.output.SetPower(value)
}

// SetTarget sets the target temperature. Zero turns the heater off;
// any other value must fall inside the configured range.
func (h *Heater) SetTarget(degrees float64) error {
	if degrees != 0 && (degrees < h.cfg.MinTemp || degrees > h.cfg.MaxTemp) {
		return errors.ThermalRangeError(h.cfg.Name, degrees, h.cfg.MinTemp, h.cfg.MaxTemp)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.faulted && degrees != 0 {
		return errors.ThermalHeaterError(h.cfg.Name, "heater is faulted")
	}
	h.targetTemp = degrees
	return nil
}

// Target returns the current target temperature.
func (h *Heater) Target() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.targetTemp
}

// Current returns the smoothed temperature.
func (h *Heater) Current() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.smoothedTemp
}

func (h *Heater) tempAndTarget(eventtime float64) (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.smoothedTemp, h.targetTemp
}

// CheckBusy reports whether the heater is still moving to its target.
func (h *Heater) CheckBusy(eventtime float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.targetTemp == 0 {
		return false
	}
	return h.control.CheckBusy(eventtime, h.smoothedTemp, h.targetTemp)
}

// GetStatus returns the heater status for the API.
func (h *Heater) GetStatus(eventtime float64) map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]interface{}{
		"temperature": roundToPlaces(h.smoothedTemp, 2),
		"target":      h.targetTemp,
		"power":       h.lastPower,
		"faulted":     h.faulted,
	}
}

// Stats returns a one-line activity summary for periodic logging.
func (h *Heater) Stats(eventtime float64) (isActive bool, stats string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	isActive = h.targetTemp != 0 || h.lastTemp > 50.0
	stats = fmt.Sprintf("%s: target=%.0f temp=%.1f power=%.3f",
		h.cfg.Name, h.targetTemp, h.lastTemp, h.lastPower)
	return isActive, stats
}

func roundToPlaces(value float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(value*multiplier) / multiplier
}
