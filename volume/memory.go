package volume

import (
	"context"
	"sync"
)

// MemoryVolume keeps the whole volume in memory.
//
// It counts writes and remembers the last extent list so tests can observe
// exactly what a commit sent to the device.
type MemoryVolume struct {
	geo Geometry

	mu       sync.RWMutex
	data     []byte
	writes   int
	last     []Extent
	writeErr error
	closed   bool
}

var (
	_ Volume    = (*MemoryVolume)(nil)
	_ Discarder = (*MemoryVolume)(nil)
)

// NewMemoryVolume creates a zeroed in-memory volume.
func NewMemoryVolume(geo Geometry) (*MemoryVolume, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &MemoryVolume{
		geo:  geo,
		data: make([]byte, geo.Size()),
	}, nil
}

func (v *MemoryVolume) ID() uint16          { return v.geo.ID }
func (v *MemoryVolume) SegmentSize() uint32 { return v.geo.SegmentSize }
func (v *MemoryVolume) NumSegments() uint32 { return v.geo.NumSegments }

func (v *MemoryVolume) SegmentOffset(id uint32) (int64, error) {
	return v.geo.SegmentOffset(id)
}

// FailWrites makes every following Write return err without touching the
// data. A nil err restores normal behavior.
func (v *MemoryVolume) FailWrites(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writeErr = err
}

// Writes returns the number of successful Write calls.
func (v *MemoryVolume) Writes() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.writes
}

// LastExtents returns a copy of the extents of the last successful Write.
func (v *MemoryVolume) LastExtents() []Extent {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Extent, len(v.last))
	for i, e := range v.last {
		out[i] = Extent{Off: e.Off, Data: append([]byte(nil), e.Data...)}
	}
	return out
}

func (v *MemoryVolume) Write(ctx context.Context, extents []Extent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.geo.checkExtents(extents); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.writeErr != nil {
		return v.writeErr
	}
	v.last = v.last[:0]
	for _, e := range extents {
		copy(v.data[e.Off-v.geo.BaseOffset:], e.Data)
		v.last = append(v.last, Extent{Off: e.Off, Data: append([]byte(nil), e.Data...)})
	}
	v.writes++
	return nil
}

func (v *MemoryVolume) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := v.geo.checkRange(off, len(p)); err != nil {
		return 0, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0, ErrClosed
	}
	return copy(p, v.data[off-v.geo.BaseOffset:]), nil
}

// Discard zeroes the segment.
func (v *MemoryVolume) Discard(_ context.Context, id uint32) error {
	off, err := v.geo.SegmentOffset(id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	clear(v.data[off-v.geo.BaseOffset : off-v.geo.BaseOffset+int64(v.geo.SegmentSize)])
	return nil
}

func (v *MemoryVolume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}
