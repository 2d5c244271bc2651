package reconcile

import (
	"context"
	"sync"
)

// runningGuard lets at most one task per key run at a time and lets callers
// wait for everything in flight to finish.
type runningGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	// idle is closed whenever nothing is running.
	idle chan struct{}
}

// TryLock marks key as running. It returns false if key already runs.
func (g *runningGuard) TryLock(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[key]; ok {
		return false
	}
	if len(g.running) == 0 {
		g.idle = make(chan struct{})
	}
	g.running[key] = struct{}{}
	return true
}

// Unlock releases key. Must follow a successful TryLock.
func (g *runningGuard) Unlock(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[key]; !ok {
		return
	}
	delete(g.running, key)
	if len(g.running) == 0 {
		close(g.idle)
	}
}

func (g *runningGuard) Running(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[key]
	return ok
}

// WaitAll blocks until nothing runs or ctx is done.
func (g *runningGuard) WaitAll(ctx context.Context) error {
	g.mu.Lock()
	if len(g.running) == 0 {
		g.mu.Unlock()
		return nil
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
