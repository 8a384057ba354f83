package recursion

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0izn0iz/vst-bridge/pkg/mainctx"
)

func TestHandleIdleRunsInline(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var c Coordinator
	require.False(t, c.Active())

	tid := mainctx.CurrentThreadID()
	ran := 0
	c.Handle(func() {
		ran++
		require.Equal(t, tid, mainctx.CurrentThreadID())
	})
	require.Equal(t, 1, ran)
}

func TestHandleRunsOnForkOwner(t *testing.T) {
	var c Coordinator
	ownerTID := make(chan int, 1)
	handledTID := make(chan int, 1)
	callerTID := make(chan int, 1)
	var finished atomic.Bool

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		ownerTID <- mainctx.CurrentThreadID()

		c.Fork(func() {
			// The helper stands in for the callback round trip; the host
			// answers it by calling into the plugin from another thread.
			handled := make(chan struct{})
			go func() {
				defer close(handled)
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				callerTID <- mainctx.CurrentThreadID()

				require.True(t, c.Active())
				c.Handle(func() {
					time.Sleep(10 * time.Millisecond)
					handledTID <- mainctx.CurrentThreadID()
					finished.Store(true)
				})
				// Handle does not return before the work completes.
				require.True(t, finished.Load())
			}()
			<-handled
		})
	}()
	<-done

	owner := <-ownerTID
	require.Equal(t, owner, <-handledTID)
	require.NotEqual(t, owner, <-callerTID)
	require.False(t, c.Active())
}

func TestForkReleasesOnPanic(t *testing.T) {
	var c Coordinator
	require.PanicsWithValue(t, "plugin crashed", func() {
		c.Fork(func() {
			require.True(t, c.Active())
			panic("plugin crashed")
		})
	})
	require.False(t, c.Active())

	ran := false
	c.Handle(func() { ran = true })
	require.True(t, ran)
}

func TestHandlePanicKeepsOwner(t *testing.T) {
	var c Coordinator
	c.Fork(func() {
		require.Panics(t, func() {
			c.Handle(func() { panic("bad request") })
		})
		require.True(t, c.Active())

		value := 0
		c.Handle(func() { value = 42 })
		require.Equal(t, 42, value)
	})
}

func TestNestedFork(t *testing.T) {
	var c Coordinator
	c.Fork(func() {
		c.Handle(func() {
			c.Fork(func() {
				depth := 0
				c.mu.Lock()
				depth = len(c.owners)
				c.mu.Unlock()
				require.Equal(t, 2, depth)

				ran := false
				c.Handle(func() { ran = true })
				require.True(t, ran)
			})
		})
		require.True(t, c.Active())
	})
	require.False(t, c.Active())
}

func TestHandleFromOwnerRunsInline(t *testing.T) {
	var c Coordinator
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Fork(func() {
			c.Handle(func() {
				// already on the owner, which is busy running this
				ownerTID := mainctx.CurrentThreadID()
				ran := false
				c.Handle(func() {
					ran = true
					require.Equal(t, ownerTID, mainctx.CurrentThreadID())
				})
				require.True(t, ran)
			})
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Handle on the owner deadlocked")
	}
	require.False(t, c.Active())
}
