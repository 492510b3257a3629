package gcode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"probetherm/pkg/display"
	"probetherm/pkg/history"
	"probetherm/pkg/log"
	"probetherm/pkg/metrics"
	"probetherm/pkg/probewait"
	"probetherm/pkg/reactor"
	"probetherm/pkg/telemetry"
	"probetherm/pkg/thermal"
)

// cmdM199 blocks until the probe crosses the S target. W forces the
// warm-up sense, C forces cool-down; with neither, the ambient bed
// and first-hotend setpoints decide. T bounds the wait in seconds,
// zero meaning forever. E names the hotend channel for reports and
// must be in range. In dry run the command is a no-op.
func (e *Executor) cmdM199(cmd *Command) error {
	if e.dryRun() {
		return nil
	}
	if !cmd.Has("S") {
		return nil
	}
	target, err := cmd.Int("S", 0)
	if err != nil {
		return err
	}
	timeout, err := cmd.Float("T", 0)
	if err != nil {
		return err
	}
	hotend, err := cmd.Int("E", 0)
	if err != nil {
		return err
	}
	if _, err := e.thermal.Hotend(hotend); err != nil {
		return err
	}

	req := probewait.Request{
		Target:    target,
		ForceCool: cmd.Has("C"),
		ForceWarm: cmd.Has("W"),
		Timeout:   timeout,
		Hotend:    hotend,
	}

	sched := &pacedScheduler{
		reactor:  e.reactor,
		interval: e.thermal.ProbePollInterval(),
	}
	rep := &waitReporter{
		responder: e.responder,
		display:   e.display,
		telemetry: e.telemetry,
		history:   e.history,
		thermal:   e.thermal,
		reactor:   e.reactor,
		detail:    strings.TrimSpace(cmd.Raw),
	}

	sup := probewait.New(e.thermal.Probe(), e.thermal, rep, sched, e.motion)
	start := time.Now()
	state := sup.Wait(req)
	e.recordWaitOutcome(rep, state, time.Since(start))
	return nil
}

// recordWaitOutcome emits the terminal observability records for a
// finished wait.
func (e *Executor) recordWaitOutcome(rep *waitReporter, state probewait.State,
	took time.Duration) {
	metrics.RecordWaitSession(rep.dir.String(), state.String(), took)
	rep.emit(state.String(), e.thermal.Probe().Temperature())
}

// pacedScheduler yields by sleeping one probe poll interval on the
// reactor, so the wait loop runs at the sampling cadence and other
// timers keep firing.
type pacedScheduler struct {
	reactor  *reactor.Reactor
	interval float64
}

func (s *pacedScheduler) Monotonic() float64 {
	return s.reactor.Monotonic()
}

func (s *pacedScheduler) Yield() {
	metrics.RecordWaitIteration()
	s.reactor.Pause(s.reactor.Monotonic() + s.interval)
}

// waitReporter fans wait output out to the command responder, the
// display, the telemetry publisher and the history store.
type waitReporter struct {
	responder *Responder
	display   *display.Display
	telemetry telemetry.Publisher
	history   *history.Store
	thermal   *thermal.Manager
	reactor   *reactor.Reactor
	detail    string

	dir    probewait.Direction
	target int
}

func (r *waitReporter) Announce(dir probewait.Direction, target int) {
	r.dir = dir
	r.target = target
	verb := "cool down"
	if dir == probewait.Warming {
		verb = "warm up"
	}
	r.responder.Respond(fmt.Sprintf(
		"Wait for sensor %s to target temperature: %d", verb, target))
	r.emit(telemetry.EventStarted, r.thermal.Probe().Temperature())
}

func (r *waitReporter) StatusLine(hotend int) {
	line := r.thermal.StatusLine(r.reactor.Monotonic())
	r.responder.Respond(line)
	if err := r.telemetry.PublishHeaters(line); err != nil {
		log.Warn("heater telemetry publish failed: %v", err)
	}
}

func (r *waitReporter) Progress(dir probewait.Direction, reading float64, target int) {
	verb := "Cooling..."
	if dir == probewait.Warming {
		verb = "Heating..."
	}
	r.display.SetStatus(fmt.Sprintf("P:%d/%d %s", int(reading), target, verb))
	metrics.SetProbeTemperature(reading)
	r.emit(telemetry.EventReport, reading)
}

func (r *waitReporter) TimedOut(dir probewait.Direction) {
	r.responder.Respond(fmt.Sprintf("TIMEOUT on sensor %s", dir.String()))
}

func (r *waitReporter) ResetDisplay() {
	r.display.ResetStatus()
}

// emit publishes one wait event to telemetry and history. Failures
// are logged and do not disturb the wait.
func (r *waitReporter) emit(event string, reading float64) {
	now := time.Now().UTC()
	err := r.telemetry.PublishWait(telemetry.WaitEvent{
		Timestamp: now,
		Event:     event,
		Direction: r.dir.String(),
		Target:    r.target,
		Reading:   reading,
	})
	if err != nil {
		log.Warn("wait telemetry publish failed for %s: %v", event, err)
	}
	err = r.history.Append(context.Background(), history.WaitEvent{
		OccurredAt: now,
		Kind:       event,
		Direction:  r.dir.String(),
		Target:     float64(r.target),
		Reading:    reading,
		Detail:     r.detail,
	})
	if err != nil {
		log.Warn("wait history append failed for %s: %v", event, err)
	}
}
