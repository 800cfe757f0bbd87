package index

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/internal/fs"
)

func mustDigest(t *testing.T, key string) digest.Digest {
	t.Helper()
	d, err := digest.Default.Compute([]byte(key))
	require.NoError(t, err)
	return d
}

func TestMemoryIndex_UpdateLookup(t *testing.T) {
	idx := NewMemoryIndex()
	d := mustDigest(t, "k")

	_, ok := idx.Lookup(d)
	assert.False(t, ok)

	e := Entry{Digest: d, Location: Location{SegmentID: 3, HeaderOffset: 32, DataOffset: 64, DataSize: 5}}
	require.NoError(t, idx.Update(e))

	got, ok := idx.Lookup(d)
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 1, idx.Len())
}

func TestMemoryIndex_CompareAndUpdate(t *testing.T) {
	idx := NewMemoryIndex()
	d := mustDigest(t, "k")

	old := Entry{Digest: d, Location: Location{SegmentID: 1, DataOffset: 64}}
	moved := Entry{Digest: d, Location: Location{SegmentID: 9, DataOffset: 64}}
	newer := Entry{Digest: d, Location: Location{SegmentID: 2, DataOffset: 64}}

	ok, err := idx.CompareAndUpdate(old, moved)
	require.NoError(t, err)
	assert.False(t, ok, "absent key must not be swapped")

	require.NoError(t, idx.Update(old))
	ok, err = idx.CompareAndUpdate(old, moved)
	require.NoError(t, err)
	assert.True(t, ok)

	// A newer write lands; a relocation that read the old copy must lose.
	require.NoError(t, idx.Update(newer))
	ok, err = idx.CompareAndUpdate(moved, Entry{Digest: d, Location: Location{SegmentID: 10, DataOffset: 64}})
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := idx.Lookup(d)
	assert.Equal(t, newer, got)
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx := NewMemoryIndex()
	d := mustDigest(t, "k")
	cur := Entry{Digest: d, Location: Location{SegmentID: 1, DataOffset: 64}}
	stale := Entry{Digest: d, Location: Location{SegmentID: 0, DataOffset: 64}}
	require.NoError(t, idx.Update(cur))

	ok, err := idx.Remove(stale)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, idx.Len())

	ok, err = idx.Remove(cur)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, idx.Len())
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	idx := NewMemoryIndex()
	for i := 0; i < 100; i++ {
		d := mustDigest(t, string(rune('a'+i%26))+string(rune('0'+i/26)))
		require.NoError(t, idx.Update(Entry{Digest: d, Location: Location{
			Volume: 1, SegmentID: uint32(i), HeaderOffset: 32, DataOffset: 64, DataSize: uint32(i * 3),
		}}))
	}

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf, 42))

	loaded := NewMemoryIndex()
	watermark, err := loaded.Load(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), watermark)
	assert.Equal(t, idx.Len(), loaded.Len())

	idx.Range(func(e Entry) bool {
		got, ok := loaded.Lookup(e.Digest)
		assert.True(t, ok)
		assert.Equal(t, e, got)
		return true
	})
}

func TestMemoryIndex_LoadCorrupt(t *testing.T) {
	idx := NewMemoryIndex()
	require.NoError(t, idx.Update(Entry{Digest: mustDigest(t, "k"), Location: Location{SegmentID: 1, DataOffset: 64}}))

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf, 1))

	_, err := NewMemoryIndex().Load(bytes.NewReader([]byte("not a snapshot")))
	assert.Error(t, err)

	truncated := buf.Bytes()[:buf.Len()/2]
	_, err = NewMemoryIndex().Load(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestMemoryIndex_SaveLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.snap")

	idx := NewMemoryIndex()
	e := Entry{Digest: mustDigest(t, "k"), Location: Location{SegmentID: 7, DataOffset: 4096, DataSize: 4096}}
	require.NoError(t, idx.Update(e))
	require.NoError(t, idx.SaveFile(nil, path, 7))

	loaded := NewMemoryIndex()
	wm, err := loaded.LoadFile(nil, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), wm)
	got, ok := loaded.Lookup(e.Digest)
	require.True(t, ok)
	assert.Equal(t, e, got)

	_, err = NewMemoryIndex().LoadFile(nil, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemoryIndex_SaveFileSyncFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.snap")

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("index.snap", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	idx := NewMemoryIndex()
	require.NoError(t, idx.Update(Entry{Digest: mustDigest(t, "k"), Location: Location{SegmentID: 1, DataOffset: 64}}))
	assert.ErrorIs(t, idx.SaveFile(ffs, path, 1), fs.ErrInjected)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "failed save must not publish a snapshot")
}
