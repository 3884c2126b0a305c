// Package gate serializes modal presentation: the session watcher and the
// agent-pairing flow may poll concurrently but only one of them may surface
// an approval prompt at a time.
package gate

import "sync"

type Gate struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire claims the gate if it is free.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	return true
}

// Release frees the gate. Releasing a free gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
}

// Held reports whether a modal currently owns the gate.
func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
