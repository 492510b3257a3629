// Auxiliary sensing probe channel
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"sync"
)

// Probe is the auxiliary sensing channel: a temperature reading plus
// a target setpoint register. Nothing in this host closes a loop on
// the register; conditioning hardware may act on it, and the wait
// supervisor owns it for the duration of a wait.
type Probe struct {
	name   string
	sensor Sensor

	mu           sync.Mutex
	lastTemp     float64
	lastTempTime float64
	target       float64
}

// NewProbe creates the probe channel.
func NewProbe(name string, sensor Sensor) *Probe {
	return &Probe{name: name, sensor: sensor}
}

// Name returns the probe channel name.
func (p *Probe) Name() string {
	return p.name
}

// update polls the sensor. Read errors keep the previous reading.
func (p *Probe) update(eventtime float64) {
	temp, err := p.sensor.Read(eventtime)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.lastTemp = temp
	p.lastTempTime = eventtime
	p.mu.Unlock()
}

// Temperature returns the last probe reading.
func (p *Probe) Temperature() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTemp
}

// SetTarget writes the setpoint register. Idempotent.
func (p *Probe) SetTarget(degrees float64) {
	p.mu.Lock()
	p.target = degrees
	p.mu.Unlock()
}

// Target reads the setpoint register.
func (p *Probe) Target() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *Probe) tempAndTarget(eventtime float64) (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTemp, p.target
}

// GetStatus returns the probe status for the API.
func (p *Probe) GetStatus(eventtime float64) map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"temperature": roundToPlaces(p.lastTemp, 2),
		"target":      p.target,
	}
}
