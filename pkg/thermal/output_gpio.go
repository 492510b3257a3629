// GPIO heater pin output via the Raspberry Pi memory-mapped registers
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"sync"

	rpio "github.com/stianeikeland/go-rpio"

	"probetherm/pkg/errors"
)

var gpio struct {
	mu     sync.Mutex
	opened bool
	users  int
}

// openGPIO maps the GPIO registers on first use.
func openGPIO() error {
	gpio.mu.Lock()
	defer gpio.mu.Unlock()
	if !gpio.opened {
		if err := rpio.Open(); err != nil {
			return err
		}
		gpio.opened = true
	}
	gpio.users++
	return nil
}

func closeGPIO() {
	gpio.mu.Lock()
	defer gpio.mu.Unlock()
	if !gpio.opened {
		return
	}
	gpio.users--
	if gpio.users <= 0 {
		rpio.Close()
		gpio.opened = false
		gpio.users = 0
	}
}

// GPIOOutput switches a heater relay or SSR on a GPIO pin. The duty
// is thresholded at 0.5; an active-low pin drives the inverse level.
type GPIOOutput struct {
	name      string
	pin       rpio.Pin
	activeLow bool

	mu sync.Mutex
	on bool
}

// NewGPIOOutput claims a BCM pin as an output and drives it to the
// off level.
func NewGPIOOutput(name string, pinNumber int, activeLow bool) (*GPIOOutput, error) {
	if pinNumber < 0 {
		return nil, errors.ThermalHeaterError(name, "heater_pin must not be negative")
	}
	if err := openGPIO(); err != nil {
		return nil, errors.ThermalHeaterError(name, "gpio open failed: "+err.Error())
	}
	o := &GPIOOutput{
		name:      name,
		pin:       rpio.Pin(pinNumber),
		activeLow: activeLow,
	}
	o.pin.Output()
	o.drive(false)
	return o, nil
}

// SetPower drives the pin on for duty >= 0.5, off otherwise.
func (o *GPIOOutput) SetPower(duty float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.on = duty >= 0.5
	o.drive(o.on)
	return nil
}

func (o *GPIOOutput) drive(on bool) {
	if on != o.activeLow {
		o.pin.High()
	} else {
		o.pin.Low()
	}
}

// Close drives the pin off and releases the GPIO mapping.
func (o *GPIOOutput) Close() {
	o.mu.Lock()
	o.drive(false)
	o.mu.Unlock()
	closeGPIO()
}
