// Package reactor provides the single-threaded cooperative event loop the
// host runs on. Feature modules register timers that return their next wake
// time; blocking command handlers suspend themselves with Pause, which is the
// only point other work gets CPU time.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// NOW schedules a timer for immediate dispatch.
	NOW = 0.0

	// NEVER parks a timer; returning it from a callback unschedules the timer.
	NEVER = 9999999999999999.0
)

// ErrClosed is returned by operations on a reactor that has ended.
var ErrClosed = errors.New("reactor: closed")

// TimerCallback runs when a timer fires. It receives the dispatch time and
// returns the next wake time, or NEVER to stop firing.
type TimerCallback func(eventtime float64) float64

// Timer is a registered timer handle.
type Timer struct {
	id       uint64
	callback TimerCallback
	waketime float64
	firing   bool
	mu       sync.Mutex
}

// Waketime returns the timer's next scheduled wake time.
func (t *Timer) Waketime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waketime
}

// Completion carries the result of an asynchronously scheduled callback.
type Completion struct {
	reactor *Reactor
	result  interface{}
	done    chan struct{}
	once    sync.Once
}

// Test reports whether the completion already has a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Complete stores the result and wakes all waiters. Later calls are ignored.
func (c *Completion) Complete(result interface{}) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// Wait blocks until the completion is done, the timeout expires, or the
// reactor ends. On timeout it returns timeoutResult.
func (c *Completion) Wait(timeout time.Duration, timeoutResult interface{}) interface{} {
	select {
	case <-c.done:
		return c.result
	case <-time.After(timeout):
		return timeoutResult
	case <-c.reactor.ctx.Done():
		return timeoutResult
	}
}

// WaitUntil blocks until the completion is done or the wake time is reached.
func (c *Completion) WaitUntil(waketime float64, waketimeResult interface{}) interface{} {
	if waketime >= NEVER {
		select {
		case <-c.done:
			return c.result
		case <-c.reactor.ctx.Done():
			return waketimeResult
		}
	}
	now := c.reactor.Monotonic()
	if waketime <= now {
		select {
		case <-c.done:
			return c.result
		default:
			return waketimeResult
		}
	}
	return c.Wait(time.Duration((waketime-now)*float64(time.Second)), waketimeResult)
}

// Reactor dispatches timers and queued callbacks on a single logical thread.
type Reactor struct {
	mu          sync.RWMutex
	timers      []*Timer
	nextTimerID uint64
	nextWake    float64

	pending chan func()

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	wg      sync.WaitGroup

	startTime time.Time
}

// New creates a reactor. The dispatch loop does not start until Run.
func New() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		nextWake:  NEVER,
		pending:   make(chan func(), 256),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Monotonic returns the reactor clock in seconds. All module timing
// (timers, deadlines, report cadences) is expressed in this clock.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

// RegisterTimer registers callback to fire at waketime.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := &Timer{
		id:       atomic.AddUint64(&r.nextTimerID, 1),
		callback: callback,
		waketime: waketime,
	}
	r.timers = append(r.timers, timer)
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	return timer
}

// UnregisterTimer removes a timer. Safe to call on a fired timer.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer.mu.Lock()
	timer.waketime = NEVER
	timer.mu.Unlock()

	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer reschedules a timer. Ignored while the timer's callback is
// running; the callback's return value wins in that case.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	timer.mu.Lock()
	if timer.firing {
		timer.mu.Unlock()
		return
	}
	timer.waketime = waketime
	timer.mu.Unlock()

	r.mu.Lock()
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()
}

// Completion creates an unresolved Completion bound to this reactor.
func (r *Reactor) Completion() *Completion {
	return &Completion{
		reactor: r,
		done:    make(chan struct{}),
	}
}

// RegisterCallback schedules fn to run on the dispatch loop at waketime and
// returns a Completion that resolves with fn's result.
func (r *Reactor) RegisterCallback(fn func(eventtime float64) interface{}, waketime float64) *Completion {
	completion := r.Completion()
	r.RegisterTimer(func(eventtime float64) float64 {
		completion.Complete(fn(eventtime))
		return NEVER
	}, waketime)
	return completion
}

// RegisterAsyncCallback schedules fn from another goroutine. The returned
// Completion resolves with fn's result, or nil if the queue is saturated.
func (r *Reactor) RegisterAsyncCallback(fn func(eventtime float64) interface{}, waketime float64) *Completion {
	completion := r.Completion()
	select {
	case r.pending <- func() {
		r.RegisterCallback(func(eventtime float64) interface{} {
			result := fn(eventtime)
			completion.Complete(result)
			return result
		}, waketime)
	}:
	default:
		completion.Complete(nil)
	}
	return completion
}

// AsyncComplete resolves a Completion from another goroutine.
func (r *Reactor) AsyncComplete(completion *Completion, result interface{}) {
	select {
	case r.pending <- func() {
		completion.Complete(result)
	}:
	default:
		completion.Complete(result)
	}
}

// Pause suspends the caller until waketime, letting the dispatch loop run
// other timers. Returns the clock value on wake. This is the cooperative
// yield point for blocking command handlers.
func (r *Reactor) Pause(waketime float64) float64 {
	now := r.Monotonic()
	if waketime <= now {
		return now
	}
	if waketime >= NEVER {
		<-r.ctx.Done()
		return r.Monotonic()
	}
	select {
	case <-time.After(time.Duration((waketime - now) * float64(time.Second))):
	case <-r.ctx.Done():
	}
	return r.Monotonic()
}

// Run starts the dispatch loop. Repeated calls are no-ops.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.dispatch()
}

// End stops the reactor and releases all paused callers.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait blocks until the dispatch loop has exited.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) dispatch() {
	defer r.wg.Done()

	for r.running.Load() {
		eventtime := r.Monotonic()

		r.drainPending()
		timeout := r.fireTimers(eventtime)

		if timeout > 0 {
			delay := time.Duration(timeout * float64(time.Second))
			if delay > time.Second {
				delay = time.Second
			}
			select {
			case <-time.After(delay):
			case fn := <-r.pending:
				fn()
			case <-r.ctx.Done():
				return
			}
		}
	}
}

func (r *Reactor) drainPending() {
	for {
		select {
		case fn := <-r.pending:
			fn()
		default:
			return
		}
	}
}

// fireTimers dispatches due timers and returns the delay until the next one.
func (r *Reactor) fireTimers(eventtime float64) float64 {
	r.mu.Lock()
	if eventtime < r.nextWake {
		delay := r.nextWake - eventtime
		r.mu.Unlock()
		return delay
	}
	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)
	r.nextWake = NEVER
	r.mu.Unlock()

	for _, timer := range timers {
		timer.mu.Lock()
		waketime := timer.waketime
		if eventtime >= waketime {
			timer.waketime = NEVER
			timer.firing = true
			timer.mu.Unlock()

			next := timer.callback(eventtime)

			timer.mu.Lock()
			timer.firing = false
			if next < timer.waketime {
				timer.waketime = next
			}
		}
		waketime = timer.waketime
		timer.mu.Unlock()

		r.mu.Lock()
		if waketime < r.nextWake {
			r.nextWake = waketime
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	delay := r.nextWake - eventtime
	r.mu.RUnlock()
	if delay < 0 {
		delay = 0
	}
	return delay
}
