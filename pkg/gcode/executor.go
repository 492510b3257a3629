// Package gcode parses and executes the g-code command stream: the
// temperature and display commands plus the M199 probe threshold
// wait.
package gcode

import (
	"fmt"
	"sync"

	"probetherm/pkg/display"
	"probetherm/pkg/history"
	"probetherm/pkg/log"
	"probetherm/pkg/motion"
	"probetherm/pkg/reactor"
	"probetherm/pkg/safety"
	"probetherm/pkg/telemetry"
	"probetherm/pkg/thermal"
)

const (
	firmwareName    = "probetherm"
	firmwareVersion = "0.9.1"

	// dryRunFlag in the M111 debug mask disables commands with
	// physical side effects.
	dryRunFlag = 8
)

// Deps collects the executor's collaborators. Telemetry and History
// may be no-op implementations; the rest are required.
type Deps struct {
	Reactor   *reactor.Reactor
	Thermal   *thermal.Manager
	Display   *display.Display
	Motion    *motion.KeepAlive
	Safety    *safety.Manager
	Responder *Responder
	Telemetry telemetry.Publisher
	History   *history.Store
}

// Executor dispatches parsed g-code commands to their handlers.
// Commands run one at a time; a blocking command such as M199 holds
// the stream until it reaches a terminal state.
type Executor struct {
	reactor   *reactor.Reactor
	thermal   *thermal.Manager
	display   *display.Display
	motion    *motion.KeepAlive
	safety    *safety.Manager
	responder *Responder
	telemetry telemetry.Publisher
	history   *history.Store

	mu         sync.Mutex
	debugFlags int
	handlers   map[string]func(*Command) error

	// shutdownExempt commands still run after a shutdown latches, so
	// the operator can query state and clear messages.
	shutdownExempt map[string]bool
}

// NewExecutor creates an executor from its dependency set.
func NewExecutor(deps Deps) *Executor {
	e := &Executor{
		reactor:   deps.Reactor,
		thermal:   deps.Thermal,
		display:   deps.Display,
		motion:    deps.Motion,
		safety:    deps.Safety,
		responder: deps.Responder,
		telemetry: deps.Telemetry,
		history:   deps.History,
	}
	e.handlers = map[string]func(*Command) error{
		"M104": e.cmdM104,
		"M105": e.cmdM105,
		"M109": e.cmdM109,
		"M111": e.cmdM111,
		"M115": e.cmdM115,
		"M117": e.cmdM117,
		"M140": e.cmdM140,
		"M190": e.cmdM190,
		"M199": e.cmdM199,
		"M73":  e.cmdM73,
	}
	e.shutdownExempt = map[string]bool{
		"M105": true,
		"M111": true,
		"M115": true,
		"M117": true,
		"M73":  true,
	}
	return e
}

// Execute parses and runs one command line, then acknowledges it.
// Every line is answered with "ok", including unknown commands and
// handler failures, so the sender's window keeps moving.
func (e *Executor) Execute(line string) {
	cmd := ParseLine(line)
	if cmd == nil {
		e.responder.RespondOK()
		return
	}

	// M112 cuts through everything, including a blocking wait
	// holding the executor lock.
	if cmd.Name == "M112" {
		e.safety.EmergencyStop("M112")
		e.responder.RespondOK()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	handler, ok := e.handlers[cmd.Name]
	if !ok {
		e.responder.Respond(fmt.Sprintf("echo:Unknown command: %q", cmd.Name))
		e.responder.RespondOK()
		return
	}

	if !e.shutdownExempt[cmd.Name] {
		if err := e.safety.CheckOperational(); err != nil {
			e.responder.RespondError(err.Error())
			e.responder.RespondOK()
			return
		}
	}

	// Any commanded activity except bare temperature polling counts
	// toward the idle timeout.
	if cmd.Name != "M105" {
		e.motion.Rearm()
	}

	if err := handler(cmd); err != nil {
		log.Warn("%s failed: %v", cmd.Name, err)
		e.responder.RespondError(err.Error())
	}
	e.responder.RespondOK()
}

// DebugFlags returns the M111 debug mask.
func (e *Executor) DebugFlags() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debugFlags
}

func (e *Executor) dryRun() bool {
	return e.debugFlags&dryRunFlag != 0
}

// cmdM104 sets a hotend target without waiting.
func (e *Executor) cmdM104(cmd *Command) error {
	if !cmd.Has("S") {
		return nil
	}
	temp, err := cmd.Float("S", 0)
	if err != nil {
		return err
	}
	index, err := cmd.Int("T", 0)
	if err != nil {
		return err
	}
	h, err := e.thermal.Hotend(index)
	if err != nil {
		return err
	}
	return h.SetTarget(temp)
}

// cmdM140 sets the bed target without waiting.
func (e *Executor) cmdM140(cmd *Command) error {
	if !cmd.Has("S") {
		return nil
	}
	temp, err := cmd.Float("S", 0)
	if err != nil {
		return err
	}
	return e.thermal.Bed().SetTarget(temp)
}

// cmdM109 sets a hotend target and blocks until it settles.
func (e *Executor) cmdM109(cmd *Command) error {
	if !cmd.Has("S") {
		return nil
	}
	temp, err := cmd.Float("S", 0)
	if err != nil {
		return err
	}
	index, err := cmd.Int("T", 0)
	if err != nil {
		return err
	}
	h, err := e.thermal.Hotend(index)
	if err != nil {
		return err
	}
	if err := h.SetTarget(temp); err != nil {
		return err
	}
	if temp == 0 {
		return nil
	}
	e.waitForHeater(h)
	return nil
}

// cmdM190 sets the bed target and blocks until it settles.
func (e *Executor) cmdM190(cmd *Command) error {
	if !cmd.Has("S") {
		return nil
	}
	temp, err := cmd.Float("S", 0)
	if err != nil {
		return err
	}
	h := e.thermal.Bed()
	if err := h.SetTarget(temp); err != nil {
		return err
	}
	if temp == 0 {
		return nil
	}
	e.waitForHeater(h)
	return nil
}

// waitForHeater blocks until the heater settles, reporting the
// heater-states line once a second. A latched shutdown aborts the
// wait.
func (e *Executor) waitForHeater(h *thermal.Heater) {
	e.thermal.WaitFor(h,
		func() bool { return e.safety.State() != safety.StateRunning },
		func(line string) {
			e.responder.Respond(line)
			if err := e.telemetry.PublishHeaters(line); err != nil {
				log.Warn("heater telemetry publish failed: %v", err)
			}
		})
}

// cmdM105 reports the current heater states.
func (e *Executor) cmdM105(cmd *Command) error {
	e.responder.Respond(e.thermal.StatusLine(e.reactor.Monotonic()))
	return nil
}

// cmdM111 sets the debug flag mask. S8 enables dry run.
func (e *Executor) cmdM111(cmd *Command) error {
	if cmd.Has("S") {
		flags, err := cmd.Int("S", 0)
		if err != nil {
			return err
		}
		e.debugFlags = flags
	}
	e.responder.RespondEcho(fmt.Sprintf("debug flags: %d", e.debugFlags))
	return nil
}

// cmdM115 reports firmware identity.
func (e *Executor) cmdM115(cmd *Command) error {
	e.responder.Respond(fmt.Sprintf(
		"FIRMWARE_NAME:%s FIRMWARE_VERSION:%s", firmwareName, firmwareVersion))
	return nil
}

// cmdM117 sets the display message. No text clears it.
func (e *Executor) cmdM117(cmd *Command) error {
	e.display.SetMessage(cmd.Text)
	return nil
}

// cmdM73 sets print progress from a percentage.
func (e *Executor) cmdM73(cmd *Command) error {
	if !cmd.Has("P") {
		return nil
	}
	pct, err := cmd.Float("P", 0)
	if err != nil {
		return err
	}
	e.display.SetProgress(pct / 100.0)
	return nil
}
