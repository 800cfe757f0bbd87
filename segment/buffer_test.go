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

func TestNewBuffer_Validation(t *testing.T) {
	vol, err := volume.NewMemoryVolume(volume.Geometry{ID: 1, SegmentSize: 5000, NumSegments: 2})
	require.NoError(t, err)

	_, err = NewBuffer(vol, 0)
	assert.True(t, errors.Is(err, ErrInvalidLayout))

	_, err = NewBuffer(newTestVolume(t), 8)
	assert.True(t, errors.Is(err, volume.ErrSegmentOutOfRange))
}

func TestBuffer_Empty(t *testing.T) {
	for _, l := range []Layout{DualCursor, SingleCursor} {
		t.Run(l.String(), func(t *testing.T) {
			b, err := NewBuffer(newTestVolume(t), 0, WithLayout(l))
			require.NoError(t, err)

			assert.True(t, b.IsEmpty())
			assert.Equal(t, uint32(SegHeaderSize), b.HeadPos())
			assert.Equal(t, Capacity(testSegmentSize, l), b.FreeSize())
			assert.Equal(t, uint32(0), b.Used())
		})
	}
	assert.Equal(t, uint32(testSegmentSize-SegHeaderSize-ChecksumSize), Capacity(testSegmentSize, SingleCursor))
}

func TestBuffer_CursorInvariant(t *testing.T) {
	for _, l := range []Layout{DualCursor, SingleCursor} {
		t.Run(l.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			b, err := NewBuffer(newTestVolume(t), 0, WithLayout(l))
			require.NoError(t, err)

			var placed int64
			for i := 0; i < 200; i++ {
				var s *Slice
				switch rng.Intn(4) {
				case 0:
					s = NewSlice([]byte(fmt.Sprintf("k%d", i)), value(BlockSize, byte(i)))
				case 1:
					s = NewTombstone([]byte(fmt.Sprintf("k%d", i)))
				default:
					s = NewSlice([]byte(fmt.Sprintf("k%d", i)), value(rng.Intn(600), byte(i)))
				}
				if b.TryPut(s) {
					placed += RecordSize(s, l)
				}
				assert.LessOrEqual(t, b.HeadPos(), b.TailPos())
				end := int64(testSegmentSize) - int64(newPacker(l).reserve())
				assert.Equal(t, int64(SegHeaderSize)+placed, int64(b.HeadPos())+end-int64(b.TailPos()))
				assert.Equal(t, placed, int64(b.Used()))
			}
			assert.Greater(t, b.KeyNum(), uint32(0))
		})
	}
}

func TestBuffer_FailedPutLeavesStateUnchanged(t *testing.T) {
	b, err := NewBuffer(newTestVolume(t), 0)
	require.NoError(t, err)

	require.NoError(t, b.Put(NewSlice([]byte("a"), value(BlockSize, 1))))
	require.NoError(t, b.Put(NewSlice([]byte("b"), value(BlockSize, 2))))
	require.NoError(t, b.Put(NewSlice([]byte("c"), value(5000, 3))))

	head, tail, keys, aligned := b.HeadPos(), b.TailPos(), b.KeyNum(), b.AlignedNum()
	slices := len(b.Slices())

	big := NewSlice([]byte("d"), value(int(b.FreeSize()), 4))
	assert.False(t, b.TryPut(big))
	assert.True(t, errors.Is(b.Put(big), ErrSegmentFull))
	assert.False(t, b.TryPut(NewSlice([]byte("e"), value(BlockSize, 5))))

	assert.Equal(t, head, b.HeadPos())
	assert.Equal(t, tail, b.TailPos())
	assert.Equal(t, keys, b.KeyNum())
	assert.Equal(t, aligned, b.AlignedNum())
	assert.Len(t, b.Slices(), slices)
}

func TestBuffer_ExactFit(t *testing.T) {
	b, err := NewBuffer(newTestVolume(t), 0)
	require.NoError(t, err)

	s := NewSlice([]byte("k"), value(int(b.FreeSize())-RecordHeaderSize, 7))
	require.NoError(t, b.Put(s))
	assert.Equal(t, uint32(0), b.FreeSize())
	assert.True(t, errors.Is(b.Put(NewTombstone([]byte("x"))), ErrSegmentFull))
}

func TestBuffer_RecordTooLarge(t *testing.T) {
	b, err := NewBuffer(newTestVolume(t), 0)
	require.NoError(t, err)

	s := NewSlice([]byte("k"), value(int(Capacity(testSegmentSize, DualCursor))-RecordHeaderSize+1, 1))
	assert.True(t, errors.Is(b.Put(s), ErrRecordTooLarge))
	assert.True(t, errors.Is(b.Put(NewSlice(nil, []byte("v"))), ErrNoKey))
	assert.True(t, b.IsEmpty())
}

func TestBuffer_PutListAllOrNothing(t *testing.T) {
	b, err := NewBuffer(newTestVolume(t), 0)
	require.NoError(t, err)

	list := []*Slice{
		NewSlice([]byte("a"), value(BlockSize, 1)),
		NewSlice([]byte("b"), value(BlockSize, 2)),
		NewSlice([]byte("c"), value(BlockSize, 3)),
		NewSlice([]byte("d"), value(BlockSize, 4)),
	}
	assert.False(t, b.TryPutList(list))
	assert.True(t, errors.Is(b.PutList(list), ErrSegmentFull))
	assert.True(t, b.IsEmpty())
	assert.Equal(t, uint32(testSegmentSize), b.TailPos())

	require.NoError(t, b.PutList(list[:3]))
	assert.Equal(t, uint32(3), b.KeyNum())
	assert.Equal(t, uint32(3), b.AlignedNum())

	noKey := []*Slice{NewSlice([]byte("x"), nil), NewSlice(nil, nil)}
	assert.True(t, errors.Is(b.PutList(noKey), ErrNoKey))
	assert.Equal(t, uint32(3), b.KeyNum())
}

func TestBuffer_Placement(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)
	b, err := NewBuffer(vol, 2)
	require.NoError(t, err)

	small1 := NewSlice([]byte("s1"), []byte("hello"))
	block1 := NewSlice([]byte("b1"), value(BlockSize, 1))
	small2 := NewSlice([]byte("s2"), []byte("world!"))
	block2 := NewSlice([]byte("b2"), value(BlockSize, 2))
	del := NewTombstone([]byte("gone"))
	require.NoError(t, b.PutList([]*Slice{small1, block1, small2, block2, del}))
	require.NoError(t, b.WriteSegToDevice(ctx))

	// Block payloads grow backwards from the end.
	assert.Equal(t, uint32(testSegmentSize-BlockSize), block1.Entry().Location.DataOffset)
	assert.Equal(t, uint32(testSegmentSize-2*BlockSize), block2.Entry().Location.DataOffset)

	// Small records grow forwards from the segment header.
	l1 := small1.Entry().Location
	l2 := small2.Entry().Location
	assert.Equal(t, uint32(SegHeaderSize), l1.HeaderOffset)
	assert.Equal(t, uint32(SegHeaderSize+RecordHeaderSize), l1.DataOffset)
	assert.Greater(t, l2.DataOffset, l1.DataOffset)
	assert.Greater(t, block2.Entry().Location.HeaderOffset, block1.Entry().Location.HeaderOffset)

	assert.True(t, del.Entry().Location.IsTombstone())
	for _, s := range b.Slices() {
		id, ok := s.SegmentID()
		assert.True(t, ok)
		assert.Equal(t, uint32(2), id)
		assert.Equal(t, uint16(1), s.Entry().Location.Volume)
	}

	// One write of the head region and the tail region, never the gap.
	base, _ := vol.SegmentOffset(2)
	ext := vol.LastExtents()
	require.Len(t, ext, 2)
	assert.Equal(t, base, ext[0].Off)
	assert.Len(t, ext[0].Data, int(b.HeadPos()))
	assert.Equal(t, base+int64(b.TailPos()), ext[1].Off)
	assert.Len(t, ext[1].Data, 2*BlockSize)
	assert.Equal(t, 1, vol.Writes())
}

func TestBuffer_HeadOnlyWrite(t *testing.T) {
	vol := newTestVolume(t)
	b, err := NewBuffer(vol, 0)
	require.NoError(t, err)
	require.NoError(t, b.Put(NewSlice([]byte("k"), []byte("v"))))
	require.NoError(t, b.WriteSegToDevice(context.Background()))

	ext := vol.LastExtents()
	require.Len(t, ext, 1)
	assert.Len(t, ext[0].Data, SegHeaderSize+RecordHeaderSize+1)
}

func TestBuffer_WriteFailure(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)
	b, err := NewBuffer(vol, 0, WithTrx(9, 1))
	require.NoError(t, err)
	s := NewSlice([]byte("k"), []byte("v"))
	require.NoError(t, b.Put(s))

	before := append([]byte(nil), b.data...)
	boom := errors.New("device gone")
	vol.FailWrites(boom)

	err = b.WriteSegToDevice(ctx)
	assert.ErrorIs(t, err, boom)
	assert.False(t, b.Committed())
	assert.False(t, s.Located())
	assert.Equal(t, before, b.data)

	vol.FailWrites(nil)
	require.NoError(t, b.WriteSegToDevice(ctx))
	assert.True(t, b.Committed())
	assert.Equal(t, uint64(9), b.Header().TrxID)
	assert.Equal(t, uint32(1), b.Header().KeyCount)

	assert.True(t, errors.Is(b.WriteSegToDevice(ctx), ErrAlreadyCommitted))
	assert.True(t, errors.Is(b.Put(NewSlice([]byte("k2"), nil)), ErrAlreadyCommitted))
	assert.Equal(t, 1, vol.Writes())
}
