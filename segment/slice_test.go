package segment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yonger1516/HLKVDS/index"
)

func TestSlice_Ownership(t *testing.T) {
	key := []byte("key")
	val := []byte("value")

	borrowed := NewSlice(key, val)
	owned := NewOwnedSlice(key, val)
	assert.Equal(t, Borrowed, borrowed.Ownership())
	assert.Equal(t, Owned, owned.Ownership())

	val[0] = 'V'
	assert.Equal(t, "Value", string(borrowed.Value()))
	assert.Equal(t, "value", string(owned.Value()))
	assert.Equal(t, 3, owned.KeyLen())
	assert.Equal(t, 5, owned.ValueLen())
}

func TestSlice_DigestCached(t *testing.T) {
	engine := &countingEngine{}
	s := NewSlice([]byte("k"), []byte("v"))
	assert.False(t, s.HasDigest())

	d1, err := s.Digest(engine)
	require.NoError(t, err)
	d2, err := s.Digest(engine)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, mustDigest(t, "k"), d1)
	assert.Equal(t, 1, engine.calls)
	assert.True(t, s.HasDigest())
}

func TestSlice_NoKey(t *testing.T) {
	_, err := NewSlice(nil, []byte("v")).Digest(&countingEngine{})
	assert.True(t, errors.Is(err, ErrNoKey))
}

func TestSlice_Aligned(t *testing.T) {
	tests := []struct {
		name  string
		slice *Slice
		want  bool
	}{
		{"block", NewSlice([]byte("k"), value(BlockSize, 1)), true},
		{"short", NewSlice([]byte("k"), value(BlockSize-1, 1)), false},
		{"long", NewSlice([]byte("k"), value(BlockSize+1, 1)), false},
		{"tombstone", NewTombstone([]byte("k")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.slice.IsAlignedData())
		})
	}
}

func TestSlice_Relocation(t *testing.T) {
	d := mustDigest(t, "k")
	before := index.Entry{Digest: d, Location: index.Location{Volume: 1, SegmentID: 2, DataOffset: 64, DataSize: 1}}
	s := NewRelocation(d, []byte("v"), before)

	got, err := s.Digest(&countingEngine{})
	require.NoError(t, err)
	assert.Equal(t, d, got)
	assert.Nil(t, s.Key())

	b, ok := s.Before()
	assert.True(t, ok)
	assert.Equal(t, before, b)

	_, located := s.SegmentID()
	assert.False(t, located)
}
