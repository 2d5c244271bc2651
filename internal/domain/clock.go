package domain

import (
	"sync"
	"time"
)

// Clock issues logical timestamps for updatedAt/createdAt.
type Clock interface {
	Now() int64
}

// LogicalClock yields strictly increasing millisecond timestamps: wall time
// when it moves forward, last+1 otherwise.
type LogicalClock struct {
	mu   sync.Mutex
	last int64
	wall func() time.Time
}

func NewLogicalClock() *LogicalClock {
	return &LogicalClock{wall: time.Now}
}

func (c *LogicalClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	wall := time.Now
	if c.wall != nil {
		wall = c.wall
	}
	ts := wall().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Observe moves the clock past ts so local edits always follow remote ones.
func (c *LogicalClock) Observe(ts int64) {
	c.mu.Lock()
	if ts > c.last {
		c.last = ts
	}
	c.mu.Unlock()
}

// CounterClock is a deterministic clock starting at Start+1.
type CounterClock struct {
	mu    sync.Mutex
	Start int64
}

func (c *CounterClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Start++
	return c.Start
}
