package volume

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Allocator hands out free segment ids of a volume, lowest first.
type Allocator struct {
	mu    sync.Mutex
	total uint32
	free  *roaring.Bitmap
}

// NewAllocator creates an allocator with every segment free.
func NewAllocator(total uint32) *Allocator {
	free := roaring.New()
	free.AddRange(0, uint64(total))
	return &Allocator{total: total, free: free}
}

// Allocate reserves the lowest free segment id.
func (a *Allocator) Allocate() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.free.IsEmpty() {
		return 0, ErrNoFreeSegment
	}
	id := a.free.Minimum()
	a.free.Remove(id)
	return id, nil
}

// MarkUsed reserves a specific id, e.g. one found populated during recovery.
func (a *Allocator) MarkUsed(id uint32) error {
	if id >= a.total {
		return fmt.Errorf("%w: segment %d of %d", ErrSegmentOutOfRange, id, a.total)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free.Remove(id)
	return nil
}

// Free returns an id to the pool.
func (a *Allocator) Free(id uint32) error {
	if id >= a.total {
		return fmt.Errorf("%w: segment %d of %d", ErrSegmentOutOfRange, id, a.total)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free.Add(id)
	return nil
}

func (a *Allocator) InUse(id uint32) bool {
	if id >= a.total {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.free.Contains(id)
}

func (a *Allocator) FreeCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free.GetCardinality()
}

// Used returns the reserved ids in ascending order.
func (a *Allocator) Used() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return roaring.Flip(a.free, 0, uint64(a.total)).ToArray()
}
