package engine

import "sync"

// trxTracker hands out transaction ids and tracks the ones not yet
// finished, so that a snapshot never claims a transaction whose index
// updates may still be missing. It also orders index publication by id.
type trxTracker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	last    uint64
	pending map[uint64]struct{}
}

func newTrxTracker(base uint64) *trxTracker {
	t := &trxTracker{last: base, pending: make(map[uint64]struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *trxTracker) begin() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	t.pending[t.last] = struct{}{}
	return t.last
}

func (t *trxTracker) end(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
	t.cond.Broadcast()
}

// awaitTurn blocks until every transaction before id has ended. Index
// updates made after it land in the order recovery replays segments in.
func (t *trxTracker) awaitTurn(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.pendingBefore(id) {
		t.cond.Wait()
	}
}

func (t *trxTracker) pendingBefore(id uint64) bool {
	for p := range t.pending {
		if p < id {
			return true
		}
	}
	return false
}

// watermark returns the highest id below which every transaction finished.
func (t *trxTracker) watermark() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.last
	for id := range t.pending {
		if id-1 < w {
			w = id - 1
		}
	}
	return w
}

func (t *trxTracker) current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
