package index

import (
	"sync"

	"github.com/yonger1516/HLKVDS/digest"
)

// MemoryIndex is an in-memory Manager backed by a Go map.
// It supports persistence via Save/Load.
type MemoryIndex struct {
	mu sync.RWMutex
	m  map[digest.Digest]Location
}

var _ Manager = (*MemoryIndex)(nil)

// NewMemoryIndex creates a new in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		m: make(map[digest.Digest]Location),
	}
}

// Lookup returns the entry for the given digest.
func (idx *MemoryIndex) Lookup(d digest.Digest) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	loc, ok := idx.m[d]
	if !ok {
		return Entry{}, false
	}
	return Entry{Digest: d, Location: loc}, true
}

// Update inserts or replaces the entry.
func (idx *MemoryIndex) Update(e Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.m[e.Digest] = e.Location
	return nil
}

// CompareAndUpdate swaps old for updated if old is current.
func (idx *MemoryIndex) CompareAndUpdate(old, updated Entry) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur, ok := idx.m[old.Digest]
	if !ok || cur != old.Location {
		return false, nil
	}
	if updated.Digest != old.Digest {
		delete(idx.m, old.Digest)
	}
	idx.m[updated.Digest] = updated.Location
	return true, nil
}

// Remove deletes e if it is current.
func (idx *MemoryIndex) Remove(e Entry) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur, ok := idx.m[e.Digest]
	if !ok || cur != e.Location {
		return false, nil
	}
	delete(idx.m, e.Digest)
	return true, nil
}

// Len returns the number of entries.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.m)
}

// Range calls fn for every entry until fn returns false.
// The index is read-locked for the duration; fn must not call back into it.
func (idx *MemoryIndex) Range(fn func(Entry) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for d, loc := range idx.m {
		if !fn(Entry{Digest: d, Location: loc}) {
			return
		}
	}
}

// Reset drops all entries.
func (idx *MemoryIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.m = make(map[digest.Digest]Location)
}
