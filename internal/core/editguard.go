package core

import (
	"context"
	"sync"
	"time"
)

// Default bounds for AwaitIdle.
const (
	DefaultGuardAttempts = 50
	DefaultGuardInterval = 50 * time.Millisecond
)

// EditGuard is a reentrant counter held while edit transactions are in
// flight. Notifications posted while it is held are queued and run, in order,
// by the Exit call that brings the count back to zero.
type EditGuard struct {
	mu      sync.Mutex
	depth   int
	pending []func()
}

// NewEditGuard returns an idle guard.
func NewEditGuard() *EditGuard {
	return &EditGuard{}
}

var processGuard = NewEditGuard()

// ProcessEditGuard returns the guard shared by every service in the process.
func ProcessEditGuard() *EditGuard {
	return processGuard
}

// Enter increments the in-flight count.
func (g *EditGuard) Enter() {
	g.mu.Lock()
	g.depth++
	g.mu.Unlock()
}

// Exit decrements the in-flight count and flushes queued notifications when it
// reaches zero. Unbalanced calls are ignored.
func (g *EditGuard) Exit() {
	g.mu.Lock()
	if g.depth == 0 {
		g.mu.Unlock()
		return
	}
	g.depth--
	if g.depth > 0 {
		g.mu.Unlock()
		return
	}
	queued := g.pending
	g.pending = nil
	g.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}

// Post runs fn now when idle, otherwise queues it until the guard is released.
func (g *EditGuard) Post(fn func()) {
	g.mu.Lock()
	if g.depth > 0 {
		g.pending = append(g.pending, fn)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	fn()
}

// Depth reports the number of transactions currently holding the guard.
func (g *EditGuard) Depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depth
}

// AwaitIdle polls until the guard is idle, at most attempts times interval
// apart. It reports whether idle was observed; callers proceed either way.
func (g *EditGuard) AwaitIdle(ctx context.Context, attempts int, interval time.Duration) bool {
	if attempts <= 0 {
		attempts = DefaultGuardAttempts
	}
	if interval <= 0 {
		interval = DefaultGuardInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		if g.Depth() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return g.Depth() == 0
}
