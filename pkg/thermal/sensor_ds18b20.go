// DS18B20 1-wire sensor backend
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"sync"
	"time"

	"github.com/yryz/ds18b20"

	"probetherm/pkg/config"
	"probetherm/pkg/errors"
)

// DS18B20Sensor reads a 1-wire temperature sensor. The kernel w1
// transaction takes most of a second, so a background goroutine polls
// the device and Read returns the cached value.
type DS18B20Sensor struct {
	name   string
	serial string

	mu      sync.Mutex
	temp    float64
	readErr error
	fresh   bool

	stop     chan struct{}
	stopOnce sync.Once
}

func newDS18B20Sensor(name string, sec *config.Section, link BoardLink) (Sensor, error) {
	serial, err := sec.Get("serial", "")
	if err != nil {
		return nil, err
	}
	if serial == "" {
		ids, err := ds18b20.Sensors()
		if err != nil {
			return nil, errors.ThermalSensorError(name, "1-wire bus scan failed: "+err.Error())
		}
		if len(ids) == 0 {
			return nil, errors.ThermalSensorError(name, "no 1-wire sensors found; set 'serial'")
		}
		serial = ids[0]
	}
	zero := 0.0
	interval, err := sec.GetFloatWithBounds("update_interval", config.FloatBounds{Above: &zero}, 1.0)
	if err != nil {
		return nil, err
	}

	s := &DS18B20Sensor{
		name:   name,
		serial: serial,
		stop:   make(chan struct{}),
	}
	go s.pollLoop(time.Duration(interval * float64(time.Second)))
	return s, nil
}

func (s *DS18B20Sensor) pollLoop(period time.Duration) {
	s.sample()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-s.stop:
			return
		}
	}
}

func (s *DS18B20Sensor) sample() {
	temp, err := ds18b20.Temperature(s.serial)
	s.mu.Lock()
	if err != nil {
		s.readErr = err
	} else {
		s.temp = temp
		s.readErr = nil
		s.fresh = true
	}
	s.mu.Unlock()
}

// Name returns the sensor name.
func (s *DS18B20Sensor) Name() string {
	return s.name
}

// Read returns the last cached reading.
func (s *DS18B20Sensor) Read(eventtime float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, errors.ThermalSensorError(s.name, s.readErr.Error())
	}
	if !s.fresh {
		return 0, errors.ThermalSensorError(s.name, "no reading yet from "+s.serial)
	}
	return s.temp, nil
}

// Stop ends the background poller.
func (s *DS18B20Sensor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
