// Temperature sensor backends for the probetherm host
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"math"
	"sync"

	"probetherm/pkg/config"
	"probetherm/pkg/errors"
)

const (
	// KelvinToCelsius is the conversion from Kelvin to Celsius
	KelvinToCelsius = -273.15

	// AmbientTemp is the default ambient temperature
	AmbientTemp = 25.0

	// SampleInterval is the time between sensor polls
	SampleInterval = 0.300
)

// Sensor is a polled temperature source. Read must not block on
// hardware; backends with slow transports cache in the background.
type Sensor interface {
	Name() string
	Read(eventtime float64) (float64, error)
}

// BoardLink is the thermal interface board connection used by the
// board sensor and output backends.
type BoardLink interface {
	Temperature() (float64, error)
	SetHeaterDuty(index int, duty float64) error
}

// SensorFactory builds a sensor from its config section.
type SensorFactory func(name string, sec *config.Section, link BoardLink) (Sensor, error)

// SensorRegistry maps sensor_type values to factories.
type SensorRegistry struct {
	types map[string]SensorFactory
}

// NewSensorRegistry creates a registry with the builtin backends.
func NewSensorRegistry() *SensorRegistry {
	r := &SensorRegistry{types: make(map[string]SensorFactory)}
	r.RegisterSensorType("simulated", newSimulatedSensor)
	r.RegisterSensorType("ds18b20", newDS18B20Sensor)
	r.RegisterSensorType("board", newBoardSensor)
	return r
}

// RegisterSensorType registers a sensor factory.
func (r *SensorRegistry) RegisterSensorType(sensorType string, factory SensorFactory) {
	r.types[sensorType] = factory
}

// Choices returns the registered sensor_type values.
func (r *SensorRegistry) Choices() []string {
	choices := make([]string, 0, len(r.types))
	for t := range r.types {
		choices = append(choices, t)
	}
	return choices
}

// Create builds a sensor of the given type.
func (r *SensorRegistry) Create(sensorType, name string, sec *config.Section, link BoardLink) (Sensor, error) {
	factory, ok := r.types[sensorType]
	if !ok {
		return nil, errors.ThermalSensorError(name, "unknown sensor_type '"+sensorType+"'")
	}
	return factory(name, sec, link)
}

// SimulatedSensor models a first-order thermal mass approaching an
// influence temperature. Tests and bench hosts drive the influence to
// script readings.
type SimulatedSensor struct {
	name string

	mu           sync.Mutex
	temp         float64
	influence    float64
	timeConstant float64
	lastTime     float64
}

func newSimulatedSensor(name string, sec *config.Section, link BoardLink) (Sensor, error) {
	start, err := sec.GetFloat("start_temp", AmbientTemp)
	if err != nil {
		return nil, err
	}
	zero := 0.0
	tau, err := sec.GetFloatWithBounds("time_constant", config.FloatBounds{Above: &zero}, 30.0)
	if err != nil {
		return nil, err
	}
	return &SimulatedSensor{
		name:         name,
		temp:         start,
		influence:    start,
		timeConstant: tau,
	}, nil
}

// NewSimulatedSensor creates a simulated sensor outside of config
// construction.
func NewSimulatedSensor(name string, startTemp, timeConstant float64) *SimulatedSensor {
	return &SimulatedSensor{
		name:         name,
		temp:         startTemp,
		influence:    startTemp,
		timeConstant: timeConstant,
	}
}

// Name returns the sensor name.
func (s *SimulatedSensor) Name() string {
	return s.name
}

// Read advances the thermal model to eventtime and returns the
// reading.
func (s *SimulatedSensor) Read(eventtime float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastTime == 0 {
		s.lastTime = eventtime
		return s.temp, nil
	}
	dt := eventtime - s.lastTime
	if dt > 0 {
		s.temp += (s.influence - s.temp) * (1.0 - math.Exp(-dt/s.timeConstant))
		s.lastTime = eventtime
	}
	return s.temp, nil
}

// Drive sets the influence temperature the model approaches.
func (s *SimulatedSensor) Drive(influence float64) {
	s.mu.Lock()
	s.influence = influence
	s.mu.Unlock()
}

// Set forces the current reading.
func (s *SimulatedSensor) Set(temp float64) {
	s.mu.Lock()
	s.temp = temp
	s.mu.Unlock()
}

// boardSensor reads the cached temperature from the interface board
// link. The link polls the board on its own cadence.
type boardSensor struct {
	name string
	link BoardLink
}

func newBoardSensor(name string, sec *config.Section, link BoardLink) (Sensor, error) {
	if link == nil {
		return nil, errors.ThermalSensorError(name, "sensor_type 'board' requires a configured [mcu] section")
	}
	return &boardSensor{name: name, link: link}, nil
}

func (s *boardSensor) Name() string {
	return s.name
}

func (s *boardSensor) Read(eventtime float64) (float64, error) {
	temp, err := s.link.Temperature()
	if err != nil {
		return 0, errors.ThermalSensorError(s.name, err.Error())
	}
	return temp, nil
}
