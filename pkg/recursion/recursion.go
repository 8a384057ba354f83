// Package recursion keeps mutually recursive call sequences on the thread
// that started them.
//
// A plugin calling back into the host from thread T may be answered by the
// host calling the plugin again. Plugins guarding both calls with a recursive
// mutex deadlock unless that second call also runs on T. Fork makes T serve
// such calls while it waits; Handle routes them there.
package recursion

import (
	"runtime"
	"sync"

	"github.com/n0izn0iz/vst-bridge/pkg/mainctx"
)

type owner struct {
	tid  int
	work chan func()
	done chan struct{}
}

// Coordinator tracks the active owners of one bridge instance. The zero
// value is ready to use.
type Coordinator struct {
	mu     sync.Mutex
	owners []*owner
}

type panicked struct{ value any }

// Fork runs fn on a helper goroutine. Until fn returns the calling goroutine
// becomes the owner and executes work passed to Handle. The owner is released
// when fn returns or panics; a panic is re-raised on the calling goroutine.
// Nested forks stack and the innermost one is the active owner. The caller
// stays locked to its OS thread while it owns.
func (c *Coordinator) Fork(fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	o := &owner{tid: mainctx.CurrentThreadID(), work: make(chan func()), done: make(chan struct{})}
	c.mu.Lock()
	c.owners = append(c.owners, o)
	c.mu.Unlock()

	result := make(chan *panicked, 1)
	go func() {
		var p *panicked
		defer func() { result <- p }()
		defer func() {
			if v := recover(); v != nil {
				p = &panicked{v}
			}
		}()
		fn()
	}()

	for {
		select {
		case work := <-o.work:
			work()
		case p := <-result:
			c.release(o)
			if p != nil {
				panic(p.value)
			}
			return
		}
	}
}

func (c *Coordinator) release(o *owner) {
	c.mu.Lock()
	for i := len(c.owners) - 1; i >= 0; i-- {
		if c.owners[i] == o {
			c.owners = append(c.owners[:i], c.owners[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(o.done)
}

func (c *Coordinator) active() *owner {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.owners); n > 0 {
		return c.owners[n-1]
	}
	return nil
}

// Active reports whether a Fork is in progress.
func (c *Coordinator) Active() bool {
	return c.active() != nil
}

// Handle runs fn on the active owner and waits for it to finish. Without an
// active owner, or when called by the owner itself, fn runs on the calling
// goroutine. A panic in fn is re-raised on the caller and leaves the owner
// serving.
func (c *Coordinator) Handle(fn func()) {
	o := c.active()
	if o == nil || o.tid == mainctx.CurrentThreadID() {
		fn()
		return
	}

	result := make(chan *panicked, 1)
	work := func() {
		var p *panicked
		defer func() { result <- p }()
		defer func() {
			if v := recover(); v != nil {
				p = &panicked{v}
			}
		}()
		fn()
	}

	select {
	case o.work <- work:
		if p := <-result; p != nil {
			panic(p.value)
		}
	case <-o.done:
		// The owner finished before it could take the work.
		fn()
	}
}
