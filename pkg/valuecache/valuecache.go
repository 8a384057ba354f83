// Package valuecache provides a value that is only visible while a guard is
// held.
package valuecache

import "sync"

// Cache holds at most one value at a time.
type Cache[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
	gen   uint64
}

// Guard clears the cached value when released.
type Guard[T any] struct {
	cache *Cache[T]
	gen   uint64
	once  sync.Once
}

// Set stores value until the returned guard is released. Release the guard
// with defer so failure paths clear the value too.
func (c *Cache[T]) Set(value T) *Guard[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.set = true
	c.gen++
	return &Guard[T]{cache: c, gen: c.gen}
}

// Get returns the cached value, if any.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Release clears the value. A guard replaced by a later Set leaves the newer
// value alone. Releasing twice or releasing a nil guard does nothing.
func (g *Guard[T]) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		c := g.cache
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != g.gen {
			return
		}
		var zero T
		c.value = zero
		c.set = false
	})
}
