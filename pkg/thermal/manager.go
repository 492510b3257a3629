// Thermal channel manager for the probetherm host
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package thermal

import (
	"fmt"
	"sort"
	"strings"

	"probetherm/pkg/config"
	"probetherm/pkg/errors"
	"probetherm/pkg/log"
	"probetherm/pkg/reactor"
)

// simHeatGain is the influence rise per unit duty for a fully
// simulated channel (sensor and output both simulated).
const simHeatGain = 300.0

// tempReporter is the common view of a reportable channel.
type tempReporter interface {
	tempAndTarget(eventtime float64) (float64, float64)
}

// Manager owns every thermal channel: the probe, the hotends and the
// optional bed. One reactor timer polls all sensors on a fixed
// cadence and feeds the heater control loops.
type Manager struct {
	reactor  *reactor.Reactor
	registry *SensorRegistry

	probe        *Probe
	hotends      []*Heater
	bed          *Heater
	heaters      map[string]*Heater
	heaterOrder  []string
	byID         map[string]tempReporter
	ids          []string
	pollInterval float64

	sampleTimer *reactor.Timer
	started     bool
	closers     []func()
	onFault     func(name string, err error)
}

// NewManager builds the thermal channels from the [probe],
// [extruder*] and [heater_bed] config sections. link may be nil when
// no interface board is configured; board-backed channels then fail
// configuration.
func NewManager(cfg *config.Config, r *reactor.Reactor, link BoardLink) (*Manager, error) {
	m := &Manager{
		reactor:  r,
		registry: NewSensorRegistry(),
		heaters:  make(map[string]*Heater),
		byID:     make(map[string]tempReporter),
	}
	m.onFault = func(name string, err error) {
		log.GetLogger("thermal").WithField("channel", name).
			WithError(err).Error("thermal fault")
	}

	probeSec, err := cfg.GetSection("probe")
	if err != nil {
		return nil, err
	}
	if err := m.setupProbe(probeSec, link); err != nil {
		return nil, err
	}

	for i, sec := range cfg.GetPrefixSections("extruder") {
		want := "extruder"
		if i > 0 {
			want = fmt.Sprintf("extruder%d", i)
		}
		if sec.GetName() != want {
			return nil, errors.New(errors.ErrConfigValidation,
				fmt.Sprintf("expected section [%s], found [%s]; hotends must be numbered in order", want, sec.GetName())).
				SetSection(sec.GetName())
		}
		h, err := m.setupHeater(sec, link)
		if err != nil {
			return nil, err
		}
		m.hotends = append(m.hotends, h)
		m.registerReporter(fmt.Sprintf("T%d", i), h)
	}

	if bedSec := cfg.GetSectionOptional("heater_bed"); bedSec != nil {
		h, err := m.setupHeater(bedSec, link)
		if err != nil {
			return nil, err
		}
		m.bed = h
		m.registerReporter("B", h)
	}

	sort.Strings(m.ids)
	return m, nil
}

func (m *Manager) setupProbe(sec *config.Section, link BoardLink) error {
	sensor, err := m.buildSensor(sec, link)
	if err != nil {
		return err
	}
	zero := 0.0
	interval, err := sec.GetFloatWithBounds("poll_interval", config.FloatBounds{Above: &zero}, 0.25)
	if err != nil {
		return err
	}
	m.pollInterval = interval
	m.probe = NewProbe(sec.GetName(), sensor)
	m.registerReporter("P", m.probe)
	return nil
}

func (m *Manager) setupHeater(sec *config.Section, link BoardLink) (*Heater, error) {
	name := sec.GetName()
	if _, exists := m.heaters[name]; exists {
		return nil, errors.ThermalHeaterError(name, "already registered")
	}

	sensor, err := m.buildSensor(sec, link)
	if err != nil {
		return nil, err
	}

	hcfg := HeaterConfig{Name: name}
	if hcfg.MinTemp, err = sec.GetFloat("min_temp"); err != nil {
		return nil, err
	}
	if hcfg.MaxTemp, err = sec.GetFloat("max_temp"); err != nil {
		return nil, err
	}
	if hcfg.MaxPower, err = sec.GetFloat("max_power", 1.0); err != nil {
		return nil, err
	}
	zero := 0.0
	if hcfg.SmoothTime, err = sec.GetFloatWithBounds("smooth_time", config.FloatBounds{Above: &zero}, 1.0); err != nil {
		return nil, err
	}
	if hcfg.Control, err = sec.GetChoice("control", []string{"pid", "bang_bang"}, "bang_bang"); err != nil {
		return nil, err
	}
	if hcfg.Control == "pid" {
		if hcfg.PidKp, err = sec.GetFloat("pid_kp"); err != nil {
			return nil, err
		}
		if hcfg.PidKi, err = sec.GetFloat("pid_ki"); err != nil {
			return nil, err
		}
		if hcfg.PidKd, err = sec.GetFloat("pid_kd"); err != nil {
			return nil, err
		}
	}
	if hcfg.MaxDelta, err = sec.GetFloat("max_delta", 2.0); err != nil {
		return nil, err
	}

	output, err := m.buildOutput(sec, sensor, link)
	if err != nil {
		return nil, err
	}

	h, err := NewHeater(hcfg, sensor, output)
	if err != nil {
		return nil, err
	}
	h.onFault = m.heaterFault

	m.heaters[name] = h
	m.heaterOrder = append(m.heaterOrder, name)
	return h, nil
}

func (m *Manager) buildSensor(sec *config.Section, link BoardLink) (Sensor, error) {
	choices := m.registry.Choices()
	sort.Strings(choices)
	sensorType, err := sec.GetChoice("sensor_type", choices)
	if err != nil {
		return nil, err
	}
	sensor, err := m.registry.Create(sensorType, sec.GetName(), sec, link)
	if err != nil {
		return nil, err
	}
	if stopper, ok := sensor.(interface{ Stop() }); ok {
		m.closers = append(m.closers, stopper.Stop)
	}
	return sensor, nil
}

func (m *Manager) buildOutput(sec *config.Section, sensor Sensor, link BoardLink) (Output, error) {
	kind, err := sec.GetChoice("output", []string{"simulated", "gpio", "board"}, "simulated")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "gpio":
		pin, err := sec.GetInt("heater_pin")
		if err != nil {
			return nil, err
		}
		activeLow, err := sec.GetBool("active_low", false)
		if err != nil {
			return nil, err
		}
		out, err := NewGPIOOutput(sec.GetName(), pin, activeLow)
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, out.Close)
		return out, nil
	case "board":
		index, err := sec.GetInt("board_index")
		if err != nil {
			return nil, err
		}
		return newBoardOutput(sec.GetName(), index, link)
	}
	rec := NewRecorderOutput()
	// A fully simulated channel drives its own sensor so the bench
	// host heats and cools like hardware.
	if sim, ok := sensor.(*SimulatedSensor); ok {
		return &simDrive{RecorderOutput: rec, sensor: sim}, nil
	}
	return rec, nil
}

// simDrive couples a recorder output to a simulated sensor.
type simDrive struct {
	*RecorderOutput
	sensor *SimulatedSensor
}

func (o *simDrive) SetPower(duty float64) error {
	o.sensor.Drive(AmbientTemp + simHeatGain*duty)
	return o.RecorderOutput.SetPower(duty)
}

func (m *Manager) registerReporter(id string, rep tempReporter) {
	m.byID[id] = rep
	m.ids = append(m.ids, id)
}

func (m *Manager) heaterFault(name string, err error) {
	if m.onFault != nil {
		m.onFault(name, err)
	}
}

// OnFault replaces the fault handler. The runtime routes faults into
// the safety shutdown path.
func (m *Manager) OnFault(fn func(name string, err error)) {
	m.onFault = fn
}

// Start begins sensor sampling on the reactor.
func (m *Manager) Start() {
	m.started = true
	m.sampleTimer = m.reactor.RegisterTimer(m.sampleEvent, reactor.NOW)
}

func (m *Manager) sampleEvent(eventtime float64) float64 {
	m.probe.update(eventtime)
	for _, name := range m.heaterOrder {
		m.heaters[name].update(eventtime)
	}
	return eventtime + SampleInterval
}

// Probe returns the probe channel.
func (m *Manager) Probe() *Probe {
	return m.probe
}

// ProbePollInterval returns the wait loop's yield pace.
func (m *Manager) ProbePollInterval() float64 {
	return m.pollInterval
}

// GetHeater returns a heater by section name.
func (m *Manager) GetHeater(name string) (*Heater, error) {
	h, ok := m.heaters[name]
	if !ok {
		return nil, errors.ThermalHeaterError(name, "unknown heater")
	}
	return h, nil
}

// Hotend returns the hotend heater at index.
func (m *Manager) Hotend(index int) (*Heater, error) {
	if index < 0 || index >= len(m.hotends) {
		return nil, errors.ThermalChannelError(
			fmt.Sprintf("hotend index %d out of range (%d configured)", index, len(m.hotends)))
	}
	return m.hotends[index], nil
}

// HotendCount returns the number of configured hotends.
func (m *Manager) HotendCount() int {
	return len(m.hotends)
}

// Bed returns the bed heater, or nil when none is configured.
func (m *Manager) Bed() *Heater {
	return m.bed
}

// BedTarget returns the bed target setpoint, 0 without a bed.
func (m *Manager) BedTarget() float64 {
	if m.bed == nil {
		return 0
	}
	return m.bed.Target()
}

// HotendTarget returns a hotend's target setpoint, 0 when the index
// is not configured.
func (m *Manager) HotendTarget(index int) float64 {
	if index < 0 || index >= len(m.hotends) {
		return 0
	}
	return m.hotends[index].Target()
}

// StatusLine renders the heater-states report: every channel as
// "<id>:<current> /<target>", sorted by G-code ID, probe included.
func (m *Manager) StatusLine(eventtime float64) string {
	if !m.started {
		return "T:0"
	}
	parts := make([]string, 0, len(m.ids))
	for _, id := range m.ids {
		cur, tgt := m.byID[id].tempAndTarget(eventtime)
		parts = append(parts, fmt.Sprintf("%s:%.1f /%.1f", id, cur, tgt))
	}
	if len(parts) == 0 {
		return "T:0"
	}
	return strings.Join(parts, " ")
}

// TurnOffAll zeroes every heater target and the probe setpoint.
func (m *Manager) TurnOffAll() {
	for _, name := range m.heaterOrder {
		m.heaters[name].SetTarget(0)
	}
	m.probe.SetTarget(0)
}

// WaitFor blocks until the heater settles at its target, pausing the
// reactor between checks and reporting the status line once a second.
// abort ends the wait early (shutdown, timeout from above).
func (m *Manager) WaitFor(h *Heater, abort func() bool, report func(line string)) {
	for {
		now := m.reactor.Monotonic()
		if abort != nil && abort() {
			return
		}
		if !h.CheckBusy(now) {
			return
		}
		if report != nil {
			report(m.StatusLine(now))
		}
		m.reactor.Pause(now + 1.0)
	}
}

// Stats returns a one-line summary of all heater channels.
func (m *Manager) Stats(eventtime float64) (bool, string) {
	var active bool
	parts := make([]string, 0, len(m.heaterOrder)+1)
	parts = append(parts, fmt.Sprintf("%s: temp=%.1f target=%.0f",
		m.probe.Name(), m.probe.Temperature(), m.probe.Target()))
	for _, name := range m.heaterOrder {
		a, s := m.heaters[name].Stats(eventtime)
		active = active || a
		parts = append(parts, s)
	}
	return active, strings.Join(parts, " ")
}

// GetStatus returns the manager status for the API.
func (m *Manager) GetStatus(eventtime float64) map[string]interface{} {
	heaters := make([]string, len(m.heaterOrder))
	copy(heaters, m.heaterOrder)
	return map[string]interface{}{
		"available_heaters": heaters,
		"probe":             m.probe.Name(),
		"hotend_count":      len(m.hotends),
	}
}

// Shutdown turns every channel off and stops sampling and backends.
func (m *Manager) Shutdown() {
	m.TurnOffAll()
	if m.sampleTimer != nil {
		m.reactor.UnregisterTimer(m.sampleTimer)
		m.sampleTimer = nil
	}
	for _, closer := range m.closers {
		closer()
	}
	m.closers = nil
}
