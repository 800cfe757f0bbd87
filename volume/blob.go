package volume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/yonger1516/HLKVDS/blobstore"
)

// SegmentObjectName is the blob name of a segment image.
func SegmentObjectName(id uint32) string {
	return fmt.Sprintf("seg-%08d", id)
}

// BlobVolume stores every segment as one lz4-compressed object.
//
// A segment commit rewrites the whole object. Bytes between the extents of a
// commit are zero in the stored image. Segments never written read as zeros.
type BlobVolume struct {
	store blobstore.Store
	geo   Geometry

	mu     sync.Mutex
	closed bool
}

var (
	_ Volume    = (*BlobVolume)(nil)
	_ Discarder = (*BlobVolume)(nil)
)

// NewBlobVolume creates a volume over store.
func NewBlobVolume(store blobstore.Store, geo Geometry) (*BlobVolume, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &BlobVolume{store: store, geo: geo}, nil
}

func (v *BlobVolume) ID() uint16          { return v.geo.ID }
func (v *BlobVolume) SegmentSize() uint32 { return v.geo.SegmentSize }
func (v *BlobVolume) NumSegments() uint32 { return v.geo.NumSegments }

func (v *BlobVolume) SegmentOffset(id uint32) (int64, error) {
	return v.geo.SegmentOffset(id)
}

func (v *BlobVolume) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Write groups extents by segment and uploads one image per segment.
func (v *BlobVolume) Write(ctx context.Context, extents []Extent) error {
	if v.isClosed() {
		return ErrClosed
	}
	if err := v.geo.checkExtents(extents); err != nil {
		return err
	}

	images := make(map[uint32][]byte)
	for _, e := range extents {
		if len(e.Data) == 0 {
			continue
		}
		id, err := v.geo.segmentOf(e.Off)
		if err != nil {
			return err
		}
		last, err := v.geo.segmentOf(e.End() - 1)
		if err != nil {
			return err
		}
		if last != id {
			return fmt.Errorf("%w: [%d, %d)", ErrMisaligned, e.Off, e.End())
		}
		img, ok := images[id]
		if !ok {
			img = make([]byte, v.geo.SegmentSize)
			images[id] = img
		}
		base, _ := v.geo.SegmentOffset(id)
		copy(img[e.Off-base:], e.Data)
	}

	ids := make([]uint32, 0, len(images))
	for id := range images {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := compress(images[id])
		if err != nil {
			return err
		}
		if err := v.store.Put(ctx, SegmentObjectName(id), data); err != nil {
			return fmt.Errorf("put segment %d: %w", id, err)
		}
	}
	return nil
}

// ReadAt downloads and decompresses every segment the range touches.
func (v *BlobVolume) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if v.isClosed() {
		return 0, ErrClosed
	}
	if err := v.geo.checkRange(off, len(p)); err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		id, err := v.geo.segmentOf(pos)
		if err != nil {
			return n, err
		}
		img, err := v.segment(ctx, id)
		if err != nil {
			return n, err
		}
		base, _ := v.geo.SegmentOffset(id)
		n += copy(p[n:], img[pos-base:])
	}
	return n, nil
}

func (v *BlobVolume) segment(ctx context.Context, id uint32) ([]byte, error) {
	data, err := v.store.Get(ctx, SegmentObjectName(id))
	if errors.Is(err, blobstore.ErrNotFound) {
		return make([]byte, v.geo.SegmentSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %d: %w", id, err)
	}

	img := make([]byte, v.geo.SegmentSize)
	if _, err := io.ReadFull(lz4.NewReader(bytes.NewReader(data)), img); err != nil {
		return nil, fmt.Errorf("decompress segment %d: %w", id, err)
	}
	return img, nil
}

// Discard deletes the segment object.
func (v *BlobVolume) Discard(ctx context.Context, id uint32) error {
	if _, err := v.geo.SegmentOffset(id); err != nil {
		return err
	}
	return v.store.Delete(ctx, SegmentObjectName(id))
}

func (v *BlobVolume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

func compress(img []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(img); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
