// Package mainctx runs work on the GUI thread of the surrogate process.
//
// Plugins expect to be constructed, destroyed and to have their editor driven
// from one thread that also runs the windowing event loop. Context.Run turns
// the calling goroutine into that thread.
package mainctx

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the event loop tick before an instance configures one.
const DefaultInterval = time.Second / 60

// Context executes functions on the goroutine calling Run, which is locked to
// its OS thread for as long as Run lasts.
type Context struct {
	logger *zap.Logger

	work     chan func()
	interval chan time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	tid      atomic.Int64

	idleMu   sync.Mutex
	idle     map[uint64]func()
	nextIdle uint64
}

// New returns a Context. Nothing runs until Run is called.
func New(logger *zap.Logger) *Context {
	return &Context{
		logger:   logger.Named("main"),
		work:     make(chan func()),
		interval: make(chan time.Duration, 1),
		stop:     make(chan struct{}),
		idle:     make(map[uint64]func()),
	}
}

// Run serves work and idle ticks until Stop is called. It must be called from
// the goroutine that should act as the GUI thread, usually the one running
// main.
func (c *Context) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.tid.Store(int64(threadID()))
	defer c.tid.Store(0)

	ticker := time.NewTicker(DefaultInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-c.work:
			fn()
		case d := <-c.interval:
			c.logger.Debug("event loop interval", zap.Duration("interval", d))
			ticker.Reset(d)
		case <-ticker.C:
			pumpMessages()
			c.runIdle()
		case <-c.stop:
			return
		}
	}
}

// Stop makes Run return after the current function.
func (c *Context) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// ThreadID returns the OS thread id of the running context, or 0.
func (c *Context) ThreadID() int {
	return int(c.tid.Load())
}

// CurrentThreadID returns the OS thread id of the caller, comparable with
// ThreadID.
func CurrentThreadID() int {
	return threadID()
}

// OnThread reports whether the caller already is the GUI thread.
func (c *Context) OnThread() bool {
	tid := c.ThreadID()
	return tid != 0 && tid == threadID()
}

// RunInContext executes fn on the GUI thread and waits for it. Called from
// the GUI thread itself, fn runs inline. A panic in fn is re-raised on the
// caller. It returns false without running fn once the context is stopped.
func (c *Context) RunInContext(fn func()) bool {
	if c.OnThread() {
		fn()
		return true
	}

	done := make(chan any, 1)
	wrapped := func() {
		defer func() { done <- recover() }()
		fn()
	}
	select {
	case c.work <- wrapped:
	case <-c.stop:
		return false
	}
	if p := <-done; p != nil {
		panic(p)
	}
	return true
}

// Post schedules fn on the GUI thread without waiting for it.
func (c *Context) Post(fn func()) {
	go c.RunInContext(fn)
}

// SetInterval changes the event loop tick. Only the latest value is kept
// when the loop is busy.
func (c *Context) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	for {
		select {
		case c.interval <- d:
			return
		default:
		}
		select {
		case <-c.interval:
		default:
		}
	}
}

// AddIdleHandler registers fn to run on every tick. The returned function
// unregisters it.
func (c *Context) AddIdleHandler(fn func()) (remove func()) {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	id := c.nextIdle
	c.nextIdle++
	c.idle[id] = fn
	return func() {
		c.idleMu.Lock()
		defer c.idleMu.Unlock()
		delete(c.idle, id)
	}
}

func (c *Context) runIdle() {
	c.idleMu.Lock()
	handlers := make([]func(), 0, len(c.idle))
	for _, fn := range c.idle {
		handlers = append(handlers, fn)
	}
	c.idleMu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}
