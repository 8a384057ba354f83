package bridge

import (
	"sync"
	"sync/atomic"
)

// construction is the instance whose plugin entry point is currently
// running. Plugins may call the host before the entry point returns the
// AEffect the instance would otherwise be found by.
var construction struct {
	// mu serializes instantiation across the process.
	mu       sync.Mutex
	instance atomic.Pointer[Instance]
}

// beginConstruction occupies the slot until the returned function is called.
func beginConstruction(inst *Instance) (release func()) {
	construction.mu.Lock()
	construction.instance.Store(inst)
	var once sync.Once
	return func() {
		once.Do(func() {
			construction.instance.Store(nil)
			construction.mu.Unlock()
		})
	}
}

func underConstruction() *Instance {
	return construction.instance.Load()
}
