package realtime

import "time"

// Data cycle boundaries. A worker with cycle k*main receives at the start of
// its cycle and sends at the main tick that ends it. Every time is a
// boundary while no worker is associated.

func (c *Coordinator) onReceiveLocked(id int, t time.Duration) bool {
	if !c.anyWorker || id < 0 || id >= len(c.threadCycle) {
		return true
	}
	cycle := c.threadCycle[id]
	if cycle <= 0 {
		return true
	}
	return t%cycle == 0
}

func (c *Coordinator) onSendLocked(id int, t time.Duration) bool {
	if !c.anyWorker || id < 0 || id >= len(c.threadCycle) {
		return true
	}
	cycle := c.threadCycle[id]
	if cycle <= 0 {
		return true
	}
	return (t-(cycle-c.mainCycle))%cycle == 0
}

// OnReceiveBoundary reports whether thread id starts a data cycle at t.
func (c *Coordinator) OnReceiveBoundary(id int, t time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onReceiveLocked(id, t)
}

// OnSendBoundary reports whether thread id ends a data cycle at main tick t.
func (c *Coordinator) OnSendBoundary(id int, t time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onSendLocked(id, t)
}

// OnObjectReceiveBoundary reports whether the named shared object starts a
// data cycle at t. Unknown objects follow the main cycle.
func (c *Coordinator) OnObjectReceiveBoundary(name string, t time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.anyWorker {
		return true
	}
	cycle := c.objectCycleLocked(name, c.mainCycle)
	if cycle <= 0 {
		return true
	}
	return t%cycle == 0
}

// ObjectCycle returns the data cycle of the named shared object, or fallback
// when no associated thread gave it one.
func (c *Coordinator) ObjectCycle(name string, fallback time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objectCycleLocked(name, fallback)
}

func (c *Coordinator) objectCycleLocked(name string, fallback time.Duration) time.Duration {
	for i, obj := range c.objects {
		if obj.Name == name && c.objectCycle[i] > 0 {
			return c.objectCycle[i]
		}
	}
	return fallback
}
