package gcode

import (
	"fmt"
	"sync"

	"probetherm/pkg/log"
)

// Responder writes command output back toward the operator. The
// three prefixed forms follow the conventional g-code console
// framing: "echo:" for acknowledged settings, "//" for informational
// asides and "!!" for errors.
type Responder struct {
	mu  sync.Mutex
	out func(string)
}

// NewResponder creates a responder writing through out. A nil out
// falls back to the structured log.
func NewResponder(out func(string)) *Responder {
	if out == nil {
		out = func(line string) { log.Info(line) }
	}
	return &Responder{out: out}
}

// SetOutput swaps the output sink.
func (r *Responder) SetOutput(out func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if out == nil {
		out = func(line string) { log.Info(line) }
	}
	r.out = out
}

// Respond writes a raw line.
func (r *Responder) Respond(line string) {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()
	out(line)
}

// RespondOK acknowledges command completion.
func (r *Responder) RespondOK() {
	r.Respond("ok")
}

// RespondEcho writes an echo-prefixed line.
func (r *Responder) RespondEcho(msg string) {
	r.Respond(fmt.Sprintf("echo: %s", msg))
}

// RespondInfo writes a comment-prefixed informational line.
func (r *Responder) RespondInfo(msg string) {
	r.Respond(fmt.Sprintf("// %s", msg))
}

// RespondError writes an error line.
func (r *Responder) RespondError(msg string) {
	r.Respond(fmt.Sprintf("!! %s", msg))
}
