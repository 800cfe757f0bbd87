package volume

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yonger1516/HLKVDS/blobstore"
	"github.com/yonger1516/HLKVDS/internal/fs"
)

var testGeometry = Geometry{ID: 3, SegmentSize: 8192, NumSegments: 4, BaseOffset: 4096}

// exerciseVolume runs the contract every Volume implementation must satisfy.
func exerciseVolume(t *testing.T, v Volume) {
	t.Helper()
	ctx := context.Background()

	assert.Equal(t, uint16(3), v.ID())
	assert.Equal(t, uint32(8192), v.SegmentSize())
	assert.Equal(t, uint32(4), v.NumSegments())

	off, err := v.SegmentOffset(2)
	require.NoError(t, err)
	assert.Equal(t, int64(4096+2*8192), off)

	_, err = v.SegmentOffset(4)
	assert.True(t, errors.Is(err, ErrSegmentOutOfRange))

	head := bytes.Repeat([]byte{0xAA}, 100)
	tail := bytes.Repeat([]byte{0xBB}, 4096)
	require.NoError(t, v.Write(ctx, []Extent{
		{Off: off, Data: head},
		{Off: off + 8192 - 4096, Data: tail},
	}))

	got := make([]byte, 8192)
	n, err := v.ReadAt(ctx, got, off)
	require.NoError(t, err)
	assert.Equal(t, 8192, n)
	assert.Equal(t, head, got[:100])
	assert.Equal(t, make([]byte, 4096-100), got[100:4096])
	assert.Equal(t, tail, got[4096:])

	// Segment 1 was never written.
	other, _ := v.SegmentOffset(1)
	n, err = v.ReadAt(ctx, got, other)
	require.NoError(t, err)
	assert.Equal(t, 8192, n)
	assert.Equal(t, make([]byte, 8192), got)

	err = v.Write(ctx, []Extent{{Off: 0, Data: []byte{1}}})
	assert.True(t, errors.Is(err, ErrSegmentOutOfRange))

	_, err = v.ReadAt(ctx, make([]byte, 10), testGeometry.BaseOffset+testGeometry.Size()-5)
	assert.True(t, errors.Is(err, ErrSegmentOutOfRange))

	require.NoError(t, v.Close())
	assert.True(t, errors.Is(v.Write(ctx, []Extent{{Off: off, Data: head}}), ErrClosed))
}

func TestGeometry_Validate(t *testing.T) {
	tests := []struct {
		name string
		geo  Geometry
		ok   bool
	}{
		{"valid", testGeometry, true},
		{"zero segment size", Geometry{NumSegments: 1}, false},
		{"zero segments", Geometry{SegmentSize: 4096}, false},
		{"negative base", Geometry{SegmentSize: 4096, NumSegments: 1, BaseOffset: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geo.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidGeometry))
			}
		})
	}
}

func TestMemoryVolume(t *testing.T) {
	v, err := NewMemoryVolume(testGeometry)
	require.NoError(t, err)
	exerciseVolume(t, v)
}

func TestMemoryVolume_FailWrites(t *testing.T) {
	ctx := context.Background()
	v, err := NewMemoryVolume(testGeometry)
	require.NoError(t, err)

	boom := errors.New("boom")
	v.FailWrites(boom)
	err = v.Write(ctx, []Extent{{Off: 4096, Data: []byte{1, 2, 3}}})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, v.Writes())

	got := make([]byte, 3)
	_, err = v.ReadAt(ctx, got, 4096)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, got)

	v.FailWrites(nil)
	require.NoError(t, v.Write(ctx, []Extent{{Off: 4096, Data: []byte{1, 2, 3}}}))
	assert.Equal(t, 1, v.Writes())
	assert.Equal(t, []Extent{{Off: 4096, Data: []byte{1, 2, 3}}}, v.LastExtents())

	require.NoError(t, v.Discard(ctx, 0))
	_, err = v.ReadAt(ctx, got, 4096)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, got)
}

func TestFileVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.dat")
	v, err := OpenFileVolume(nil, path, testGeometry)
	require.NoError(t, err)

	info, err := fs.Default.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, testGeometry.BaseOffset+testGeometry.Size(), info.Size())

	exerciseVolume(t, v)
}

func TestFileVolume_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vol.dat")

	v, err := OpenFileVolume(nil, path, testGeometry)
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, []Extent{{Off: 4096, Data: []byte("persisted")}}))
	require.NoError(t, v.Close())

	v, err = OpenFileVolume(nil, path, testGeometry)
	require.NoError(t, err)
	defer v.Close()

	got := make([]byte, 9)
	_, err = v.ReadAt(ctx, got, 4096)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
}

func TestFileVolume_SyncFailure(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("vol.dat", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	v, err := OpenFileVolume(ffs, filepath.Join(t.TempDir(), "vol.dat"), testGeometry)
	require.NoError(t, err)
	defer v.Close()

	err = v.Write(ctx, []Extent{{Off: 4096, Data: []byte{1}}})
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestFileVolume_WriteFailure(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("vol.dat", fs.Fault{FailAfterBytes: 10})

	v, err := OpenFileVolume(ffs, filepath.Join(t.TempDir(), "vol.dat"), testGeometry)
	require.NoError(t, err)
	defer v.Close()

	err = v.Write(ctx, []Extent{{Off: 4096, Data: make([]byte, 64)}})
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestBlobVolume(t *testing.T) {
	v, err := NewBlobVolume(blobstore.NewMemoryStore(), testGeometry)
	require.NoError(t, err)
	exerciseVolume(t, v)
}

func TestBlobVolume_ObjectPerSegment(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	v, err := NewBlobVolume(store, testGeometry)
	require.NoError(t, err)

	off1, _ := v.SegmentOffset(1)
	require.NoError(t, v.Write(ctx, []Extent{{Off: off1, Data: []byte("one")}}))

	names, err := store.List(ctx, "seg-")
	require.NoError(t, err)
	assert.Equal(t, []string{SegmentObjectName(1)}, names)

	// Compressed image of a mostly-zero segment is far smaller than the segment.
	data, err := store.Get(ctx, SegmentObjectName(1))
	require.NoError(t, err)
	assert.Less(t, len(data), int(testGeometry.SegmentSize))

	err = v.Write(ctx, []Extent{{Off: off1 + 8190, Data: []byte("cross")}})
	assert.True(t, errors.Is(err, ErrMisaligned))

	require.NoError(t, v.Discard(ctx, 1))
	names, err = store.List(ctx, "seg-")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestAllocator(t *testing.T) {
	a := NewAllocator(3)
	assert.Equal(t, uint64(3), a.FreeCount())

	require.NoError(t, a.MarkUsed(1))
	assert.True(t, a.InUse(1))

	id, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	id, err = a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id)

	_, err = a.Allocate()
	assert.True(t, errors.Is(err, ErrNoFreeSegment))
	assert.Equal(t, []uint32{0, 1, 2}, a.Used())

	require.NoError(t, a.Free(1))
	assert.False(t, a.InUse(1))
	assert.Equal(t, []uint32{0, 2}, a.Used())

	id, err = a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	assert.True(t, errors.Is(a.Free(3), ErrSegmentOutOfRange))
	assert.True(t, errors.Is(a.MarkUsed(7), ErrSegmentOutOfRange))
	assert.False(t, a.InUse(9))
}
