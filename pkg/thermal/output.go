// Heater power output backends
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"sync"

	"probetherm/pkg/errors"
)

// Output drives a heater's power stage with a duty in [0,1].
type Output interface {
	SetPower(duty float64) error
}

// RecorderOutput stores every duty write. It is the simulated power
// stage and the assertion point in tests.
type RecorderOutput struct {
	mu     sync.Mutex
	last   float64
	writes []float64
}

// NewRecorderOutput creates a recording output.
func NewRecorderOutput() *RecorderOutput {
	return &RecorderOutput{}
}

// SetPower records the duty.
func (o *RecorderOutput) SetPower(duty float64) error {
	o.mu.Lock()
	o.last = duty
	o.writes = append(o.writes, duty)
	o.mu.Unlock()
	return nil
}

// Last returns the most recent duty.
func (o *RecorderOutput) Last() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Writes returns a copy of all recorded duties.
func (o *RecorderOutput) Writes() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]float64, len(o.writes))
	copy(out, o.writes)
	return out
}

// boardOutput forwards the duty to a heater channel on the interface
// board.
type boardOutput struct {
	name  string
	index int
	link  BoardLink
}

func newBoardOutput(name string, index int, link BoardLink) (Output, error) {
	if link == nil {
		return nil, errors.ThermalHeaterError(name, "output 'board' requires a configured [mcu] section")
	}
	if index < 0 {
		return nil, errors.ThermalHeaterError(name, "board_index must not be negative")
	}
	return &boardOutput{name: name, index: index, link: link}, nil
}

func (o *boardOutput) SetPower(duty float64) error {
	if err := o.link.SetHeaterDuty(o.index, duty); err != nil {
		return errors.ThermalHeaterError(o.name, err.Error())
	}
	return nil
}
