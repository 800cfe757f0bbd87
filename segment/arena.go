package segment

import (
	"fmt"
	"sort"
	"sync"
)

// Arena owns open and committing request segments, keyed by segment id.
// Requests refer to their segment by id; a segment's image is reclaimed
// when it is retired, after its completion ran.
type Arena struct {
	mu   sync.Mutex
	segs map[uint32]*ReqSegment
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{segs: make(map[uint32]*ReqSegment)}
}

// Add registers seg. Only one live segment may use an id.
func (a *Arena) Add(seg *ReqSegment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.segs[seg.ID()]; ok {
		return fmt.Errorf("segment: %d already in arena", seg.ID())
	}
	a.segs[seg.ID()] = seg
	return nil
}

// Get returns the segment registered under id.
func (a *Arena) Get(id uint32) (*ReqSegment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seg, ok := a.segs[id]
	return seg, ok
}

// Retire removes the segment and recycles its image. It reports whether the
// id was registered.
func (a *Arena) Retire(id uint32) bool {
	a.mu.Lock()
	seg, ok := a.segs[id]
	delete(a.segs, id)
	a.mu.Unlock()

	if ok {
		seg.buf.Release()
	}
	return ok
}

func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segs)
}

// IDs returns the registered ids in ascending order.
func (a *Arena) IDs() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]uint32, 0, len(a.segs))
	for id := range a.segs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
