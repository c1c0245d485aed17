package ciba

import "sync/atomic"

// Guard admits at most one holder at a time. Acquisition never blocks.
type Guard struct {
	held atomic.Bool
}

func (g *Guard) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

func (g *Guard) Release() {
	g.held.Store(false)
}
