package segment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yonger1516/HLKVDS/volume"
)

func TestReadSegment_RoundTrip(t *testing.T) {
	for _, l := range []Layout{DualCursor, SingleCursor} {
		t.Run(l.String(), func(t *testing.T) {
			ctx := context.Background()
			vol := newTestVolume(t)
			rng := rand.New(rand.NewSource(7))

			b, err := NewBuffer(vol, 5, WithLayout(l), WithTrx(77, 1))
			require.NoError(t, err)

			var want []*Slice
			for i := 0; ; i++ {
				var s *Slice
				switch {
				case i%5 == 4:
					s = NewTombstone([]byte(fmt.Sprintf("key-%d", i)))
				case i%3 == 2:
					s = NewSlice([]byte(fmt.Sprintf("key-%d", i)), value(BlockSize, byte(i)))
				default:
					v := make([]byte, rng.Intn(300))
					rng.Read(v)
					s = NewSlice([]byte(fmt.Sprintf("key-%d", i)), v)
				}
				if !b.TryPut(s) {
					break
				}
				want = append(want, s)
			}
			require.NotEmpty(t, want)
			require.NoError(t, b.WriteSegToDevice(ctx))

			seg, err := ReadSegment(ctx, vol, 5)
			require.NoError(t, err)
			assert.Equal(t, l, seg.Layout)
			assert.Equal(t, uint64(77), seg.Header.TrxID)
			assert.Equal(t, b.HeadPos(), seg.HeadPos)
			require.Len(t, seg.Records, len(want))

			for i, rec := range seg.Records {
				s := want[i]
				assert.Equal(t, s.CachedDigest(), rec.Digest)
				assert.Equal(t, s.IsTombstone(), rec.IsTombstone())
				if !s.IsTombstone() {
					assert.Equal(t, s.Value(), rec.Value)
				}
				assert.Equal(t, s.Entry(), rec.Entry(vol.ID(), 5))
				assert.Equal(t, l == DualCursor && s.IsAlignedData(), rec.Aligned())
			}
		})
	}
}

func TestReadSegment_Empty(t *testing.T) {
	_, err := ReadSegment(context.Background(), newTestVolume(t), 0)
	assert.True(t, errors.Is(err, ErrEmptySegment))
}

func TestReadSegment_Corruption(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		// offset relative to the segment start
		flip func(b *Buffer) int64
	}{
		{"dual head payload", DualCursor, func(b *Buffer) int64 { return SegHeaderSize + RecordHeaderSize }},
		{"dual tail block", DualCursor, func(b *Buffer) int64 { return int64(b.TailPos()) + 10 }},
		{"dual header", DualCursor, func(b *Buffer) int64 { return 0 }},
		{"single payload", SingleCursor, func(b *Buffer) int64 { return SegHeaderSize + RecordHeaderSize }},
		{"single trailer", SingleCursor, func(b *Buffer) int64 { return testSegmentSize - 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			vol := newTestVolume(t)
			b, err := NewBuffer(vol, 1, WithLayout(tt.layout))
			require.NoError(t, err)
			require.NoError(t, b.PutList([]*Slice{
				NewSlice([]byte("a"), []byte("payload")),
				NewSlice([]byte("b"), value(BlockSize, 3)),
			}))
			require.NoError(t, b.WriteSegToDevice(ctx))

			base, _ := vol.SegmentOffset(1)
			off := base + tt.flip(b)
			one := make([]byte, 1)
			_, err = vol.ReadAt(ctx, one, off)
			require.NoError(t, err)
			one[0] ^= 0xFF
			require.NoError(t, vol.Write(ctx, []volume.Extent{{Off: off, Data: one}}))

			_, err = ReadSegment(ctx, vol, 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrCorruptRecord), err)
		})
	}
}

func TestReadSegment_ReusedSegment(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)

	first, err := NewBuffer(vol, 0)
	require.NoError(t, err)
	require.NoError(t, first.PutList([]*Slice{
		NewSlice([]byte("a"), value(BlockSize, 1)),
		NewSlice([]byte("b"), value(BlockSize, 2)),
		NewSlice([]byte("c"), value(2000, 3)),
	}))
	require.NoError(t, first.WriteSegToDevice(ctx))

	second, err := NewBuffer(vol, 0)
	require.NoError(t, err)
	require.NoError(t, second.Put(NewSlice([]byte("d"), []byte("fresh"))))
	require.NoError(t, second.WriteSegToDevice(ctx))

	seg, err := ReadSegment(ctx, vol, 0)
	require.NoError(t, err)
	require.Len(t, seg.Records, 1)
	assert.Equal(t, []byte("fresh"), seg.Records[0].Value)
	assert.Equal(t, uint32(testSegmentSize), seg.TailPos)
}

func TestReadSegment_BlockFillsSegment(t *testing.T) {
	ctx := context.Background()
	vol, err := volume.NewMemoryVolume(volume.Geometry{ID: 1, SegmentSize: 2 * BlockSize, NumSegments: 2})
	require.NoError(t, err)

	b, err := NewBuffer(vol, 0)
	require.NoError(t, err)
	require.NoError(t, b.Put(NewSlice([]byte("inline"), value(4000, 1))))
	require.NoError(t, b.Put(NewSlice([]byte("block"), value(BlockSize, 2))))
	require.Equal(t, b.HeadPos(), b.TailPos(), "the block fills the segment")
	require.NoError(t, b.WriteSegToDevice(ctx))

	seg, err := ReadSegment(ctx, vol, 0)
	require.NoError(t, err)
	require.Len(t, seg.Records, 2)
	assert.Equal(t, uint32(BlockSize), seg.HeadPos)
	assert.Equal(t, uint32(BlockSize), seg.TailPos)

	blk := seg.Records[1]
	assert.True(t, blk.Aligned())
	assert.Equal(t, blk.HeaderOffset+RecordHeaderSize, blk.DataOffset)
	assert.Equal(t, value(BlockSize, 2), blk.Value)
	assert.False(t, seg.Records[0].Aligned())
	assert.Equal(t, value(4000, 1), seg.Records[0].Value)
}

func TestReadSegment_BlockSizedInlineSingleCursor(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)

	b, err := NewBuffer(vol, 2, WithLayout(SingleCursor))
	require.NoError(t, err)
	require.NoError(t, b.Put(NewSlice([]byte("k"), value(BlockSize, 9))))
	require.NoError(t, b.WriteSegToDevice(ctx))

	seg, err := ReadSegment(ctx, vol, 2)
	require.NoError(t, err)
	require.Len(t, seg.Records, 1)
	assert.False(t, seg.Records[0].Aligned())
	assert.Equal(t, value(BlockSize, 9), seg.Records[0].Value)
}
