// Package countdown implements the test timer: a remaining duration advanced by
// a single tick source, with an expiry signal fired once per run cycle.
package countdown

import (
	"fmt"
	"sync"
	"time"
)

// DefaultInterval is the tick granularity.
const DefaultInterval = time.Second

// Ticker is the tick source driving an Engine.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Engine is a pausable countdown. Callbacks are invoked from the tick
// goroutine without any engine lock held, so they may call back into the
// engine.
type Engine struct {
	mu        sync.Mutex
	interval  time.Duration
	remaining time.Duration
	running   bool
	expired   bool
	stop      chan struct{}

	newTicker func(time.Duration) Ticker
	onTick    func(remaining time.Duration)
	onExpire  func()
}

// Option configures an Engine.
type Option func(*Engine)

func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithTicker replaces the wall-clock tick source.
func WithTicker(factory func(time.Duration) Ticker) Option {
	return func(e *Engine) { e.newTicker = factory }
}

// WithTickFunc registers a callback run after every decrement, including the
// one that reaches zero.
func WithTickFunc(fn func(remaining time.Duration)) Option {
	return func(e *Engine) { e.onTick = fn }
}

// New creates a stopped engine holding remaining time.
func New(remaining time.Duration, onExpire func(), opts ...Option) *Engine {
	e := &Engine{
		interval:  DefaultInterval,
		remaining: max(remaining, 0),
		newTicker: newRealTicker,
		onExpire:  onExpire,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start resumes ticking. It returns false, doing nothing, when the engine is
// already running, has expired without a Reset, or has no time left.
func (e *Engine) Start() bool {
	e.mu.Lock()
	if e.running || e.expired || e.remaining <= 0 {
		e.mu.Unlock()
		return false
	}
	e.running = true
	stop := make(chan struct{})
	e.stop = stop
	t := e.newTicker(e.interval)
	e.mu.Unlock()

	go e.run(t, stop)
	return true
}

// Pause stops future ticks. It never waits for the tick goroutine.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.halt()
	e.mu.Unlock()
}

// Reset stops the engine and replaces the remaining time. It does not restart.
func (e *Engine) Reset(remaining time.Duration) {
	e.mu.Lock()
	e.halt()
	e.remaining = max(remaining, 0)
	e.expired = false
	e.mu.Unlock()
}

func (e *Engine) Remaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Expired reports whether the current run cycle reached zero.
func (e *Engine) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expired
}

// halt must be called with mu held.
func (e *Engine) halt() {
	e.running = false
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (e *Engine) run(t Ticker, stop chan struct{}) {
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if !e.advance(stop) {
				return
			}
		}
	}
}

// advance applies one tick for the run cycle identified by stop. It reports
// whether the cycle is still running.
func (e *Engine) advance(stop chan struct{}) bool {
	e.mu.Lock()
	if !e.running || e.stop != stop {
		e.mu.Unlock()
		return false
	}
	e.remaining -= e.interval
	fired := false
	if e.remaining <= 0 {
		e.remaining = 0
		e.running = false
		e.expired = true
		e.stop = nil
		close(stop)
		fired = true
	}
	remaining := e.remaining
	onTick, onExpire := e.onTick, e.onExpire
	e.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if fired {
		if onExpire != nil {
			onExpire()
		}
		return false
	}
	return true
}

// Format renders d as MM:SS, truncating partial seconds so the display never
// shows more time than is left.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
