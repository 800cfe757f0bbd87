package volume

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSegmentOutOfRange is returned when a segment id or byte range falls outside the volume.
	ErrSegmentOutOfRange = errors.New("volume: segment out of range")
	// ErrNoFreeSegment is returned by Allocator.Allocate when every segment is in use.
	ErrNoFreeSegment = errors.New("volume: no free segment")
	// ErrClosed is returned for operations on a closed volume.
	ErrClosed = errors.New("volume: closed")
	// ErrMisaligned is returned when an extent crosses a segment boundary on a
	// volume that stores segments independently.
	ErrMisaligned = errors.New("volume: extent crosses segment boundary")
	// ErrInvalidGeometry is returned for a zero segment size or count.
	ErrInvalidGeometry = errors.New("volume: invalid geometry")
)

// Extent is a contiguous run of bytes at an absolute volume offset.
type Extent struct {
	Off  int64
	Data []byte
}

// End returns the offset one past the last byte of the extent.
func (e Extent) End() int64 { return e.Off + int64(len(e.Data)) }

// Volume is the raw device a segment is committed to.
type Volume interface {
	// ID identifies the volume inside index locations.
	ID() uint16
	SegmentSize() uint32
	NumSegments() uint32
	// SegmentOffset translates a segment id to its absolute byte offset.
	SegmentOffset(id uint32) (int64, error)
	// Write persists all extents before returning. Extents never overlap.
	Write(ctx context.Context, extents []Extent) error
	// ReadAt fills p from the absolute offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	Close() error
}

// Discarder is implemented by volumes that can release the storage of a
// segment that no longer holds live data.
type Discarder interface {
	Discard(ctx context.Context, id uint32) error
}

// Geometry describes the segment layout of a volume.
type Geometry struct {
	ID          uint16
	SegmentSize uint32
	NumSegments uint32
	// BaseOffset is the absolute offset of segment 0.
	BaseOffset int64
}

// Validate reports whether the geometry describes at least one segment.
func (g Geometry) Validate() error {
	if g.SegmentSize == 0 || g.NumSegments == 0 || g.BaseOffset < 0 {
		return fmt.Errorf("%w: segment size %d, segments %d, base %d",
			ErrInvalidGeometry, g.SegmentSize, g.NumSegments, g.BaseOffset)
	}
	return nil
}

// Size returns the number of bytes spanned by all segments.
func (g Geometry) Size() int64 {
	return int64(g.SegmentSize) * int64(g.NumSegments)
}

// SegmentOffset translates a segment id to its absolute byte offset.
func (g Geometry) SegmentOffset(id uint32) (int64, error) {
	if id >= g.NumSegments {
		return 0, fmt.Errorf("%w: segment %d of %d", ErrSegmentOutOfRange, id, g.NumSegments)
	}
	return g.BaseOffset + int64(id)*int64(g.SegmentSize), nil
}

// segmentOf returns the segment containing the absolute offset off.
func (g Geometry) segmentOf(off int64) (uint32, error) {
	if off < g.BaseOffset || off >= g.BaseOffset+g.Size() {
		return 0, fmt.Errorf("%w: offset %d", ErrSegmentOutOfRange, off)
	}
	return uint32((off - g.BaseOffset) / int64(g.SegmentSize)), nil
}

// checkRange verifies that [off, off+n) lies inside the segment area.
func (g Geometry) checkRange(off int64, n int) error {
	if off < g.BaseOffset || off+int64(n) > g.BaseOffset+g.Size() {
		return fmt.Errorf("%w: range [%d, %d)", ErrSegmentOutOfRange, off, off+int64(n))
	}
	return nil
}

func (g Geometry) checkExtents(extents []Extent) error {
	for _, e := range extents {
		if err := g.checkRange(e.Off, len(e.Data)); err != nil {
			return err
		}
	}
	return nil
}
