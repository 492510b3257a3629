// Threshold-wait supervisor for the auxiliary probe channel
//
// Copyright (C) 2026  Probetherm Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package probewait blocks a command until the probe crosses a target
// temperature. It resolves whether the system should heat or cool
// toward the target, commits the target to the probe's setpoint
// register, then polls the reading in a cooperative loop that yields
// to the scheduler and re-arms the motion keep-alive watchdog on every
// pass. The supervisor never controls temperature itself; it observes
// a reading and gates forward progress on a comparison.
package probewait

// Direction is the resolved sense of a wait, fixed for its duration.
type Direction int

const (
	Cooling Direction = iota
	Warming
)

// String returns the diagnostic form of the direction.
func (d Direction) String() string {
	if d == Warming {
		return "warm-up"
	}
	return "cool-down"
}

// State is the poll loop state. Running is initial; TimedOut and
// Completed are terminal.
type State int

const (
	StateRunning State = iota
	StateTimedOut
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateTimedOut:
		return "timed_out"
	case StateCompleted:
		return "completed"
	}
	return "running"
}

// Request describes one wait. It is built once from operator input and
// never mutated.
type Request struct {
	// Target is the probe temperature to wait for, in celsius.
	Target int
	// ForceCool and ForceWarm pin the direction regardless of ambient
	// heater state. ForceWarm wins when both are set.
	ForceCool bool
	ForceWarm bool
	// Timeout aborts the wait after this many seconds. Zero waits
	// forever.
	Timeout float64
	// Hotend selects the heater channel named in status reports.
	Hotend int
}

// Probe is the sensing channel under supervision.
type Probe interface {
	Temperature() float64
	SetTarget(degrees float64)
}

// AmbientHeaters exposes the setpoints consulted when resolving
// direction. They are read once per wait, never mid-loop.
type AmbientHeaters interface {
	BedTarget() float64
	HotendTarget(index int) float64
}

// Reporter receives the wait's observable output. Implementations fan
// out to the command responder, the display, and any observers.
type Reporter interface {
	// Announce is emitted once when the wait begins.
	Announce(dir Direction, target int)
	// StatusLine emits the heater-states telemetry line.
	StatusLine(hotend int)
	// Progress emits display progress alongside each status line.
	Progress(dir Direction, reading float64, target int)
	// TimedOut emits the one-line diagnostic on deadline expiry.
	TimedOut(dir Direction)
	// ResetDisplay clears transient display state. Called on every
	// exit path.
	ResetDisplay()
}

// Scheduler is the cooperative yield point. Yield must let other
// host work run; Monotonic is the loop's clock.
type Scheduler interface {
	Monotonic() float64
	Yield()
}

// Watchdog keeps the motion subsystem powered. Rearm must be called
// at least once per watchdog window while a wait blocks the command
// stream.
type Watchdog interface {
	Rearm()
}

// DefaultReportInterval is the status report cadence in seconds.
const DefaultReportInterval = 1.0

// Supervisor runs threshold waits against injected collaborators.
type Supervisor struct {
	probe          Probe
	ambient        AmbientHeaters
	reporter       Reporter
	sched          Scheduler
	watchdog       Watchdog
	reportInterval float64
}

// New returns a supervisor reporting at DefaultReportInterval.
func New(probe Probe, ambient AmbientHeaters, reporter Reporter, sched Scheduler, watchdog Watchdog) *Supervisor {
	return &Supervisor{
		probe:          probe,
		ambient:        ambient,
		reporter:       reporter,
		sched:          sched,
		watchdog:       watchdog,
		reportInterval: DefaultReportInterval,
	}
}

// Resolve picks the wait direction. Precedence: ForceWarm, ForceCool,
// then ambient state. With every ambient setpoint at zero nothing is
// actively heating, so the probe is expected to drift down.
func (s *Supervisor) Resolve(req Request) Direction {
	if req.ForceWarm {
		return Warming
	}
	if req.ForceCool {
		return Cooling
	}
	if s.ambient.BedTarget() == 0 && s.ambient.HotendTarget(0) == 0 {
		return Cooling
	}
	return Warming
}

// Wait blocks until the probe reading crosses req.Target in the
// resolved direction, or the timeout elapses. The probe setpoint is
// committed at entry and reset to 0 on every exit path. Every loop
// iteration yields to the scheduler and re-arms the watchdog exactly
// once, including the iteration that detects completion or timeout.
func (s *Supervisor) Wait(req Request) State {
	dir := s.Resolve(req)
	target := float64(req.Target)

	now := s.sched.Monotonic()
	var deadline float64
	if req.Timeout > 0 {
		deadline = now + req.Timeout
	}
	s.reporter.Announce(dir, req.Target)
	nextReport := now + s.reportInterval
	s.probe.SetTarget(target)

	state := StateRunning
	for state == StateRunning {
		reading := s.probe.Temperature()
		if now >= nextReport {
			// Re-arm from the current time. Cadence may drift under
			// load; a catch-up burst after a stall must not happen.
			nextReport = now + s.reportInterval
			s.reporter.StatusLine(req.Hotend)
			s.reporter.Progress(dir, reading, req.Target)
		}
		s.sched.Yield()
		s.watchdog.Rearm()
		now = s.sched.Monotonic()
		if deadline != 0 && now >= deadline {
			s.reporter.TimedOut(dir)
			state = StateTimedOut
			break
		}
		if (dir == Warming && reading >= target) ||
			(dir == Cooling && reading <= target) {
			state = StateCompleted
		}
	}
	s.reporter.ResetDisplay()
	s.probe.SetTarget(0)
	return state
}
