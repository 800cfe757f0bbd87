package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/yonger1516/HLKVDS/internal/fs"
)

// errNoPrealloc signals that the platform or file cannot preallocate.
var errNoPrealloc = errors.New("preallocation not supported")

// FileVolume stores segments in a single preallocated file.
type FileVolume struct {
	geo  Geometry
	path string
	fs   fs.FileSystem

	mu     sync.RWMutex
	f      fs.File
	closed bool
}

var _ Volume = (*FileVolume)(nil)

// OpenFileVolume opens or creates the file at path and makes sure it spans
// the whole geometry. If fsys is nil, fs.Default is used.
func OpenFileVolume(fsys fs.FileSystem, path string, geo Geometry) (*FileVolume, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("open volume %s: %w", path, err)
	}

	size := geo.BaseOffset + geo.Size()
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() < size {
		err := preallocate(f, size)
		if errors.Is(err, errNoPrealloc) {
			err = fsys.Truncate(path, size)
		}
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("preallocate volume %s: %w", path, err)
		}
	}

	return &FileVolume{geo: geo, path: path, fs: fsys, f: f}, nil
}

func (v *FileVolume) ID() uint16          { return v.geo.ID }
func (v *FileVolume) SegmentSize() uint32 { return v.geo.SegmentSize }
func (v *FileVolume) NumSegments() uint32 { return v.geo.NumSegments }

func (v *FileVolume) SegmentOffset(id uint32) (int64, error) {
	return v.geo.SegmentOffset(id)
}

// Path returns the backing file path.
func (v *FileVolume) Path() string { return v.path }

// Write issues one positional write per extent followed by a data sync.
func (v *FileVolume) Write(ctx context.Context, extents []Extent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.geo.checkExtents(extents); err != nil {
		return err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrClosed
	}
	for _, e := range extents {
		if _, err := v.f.WriteAt(e.Data, e.Off); err != nil {
			return fmt.Errorf("write extent at %d: %w", e.Off, err)
		}
	}
	return datasync(v.f)
}

func (v *FileVolume) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
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
	return v.f.ReadAt(p, off)
}

func (v *FileVolume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.f.Close()
}
