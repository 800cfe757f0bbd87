package segment

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/index"
	"github.com/yonger1516/HLKVDS/volume"
)

// Options configures a Buffer.
type Options struct {
	Layout Layout
	// Digest computes key digests. Defaults to digest.Default.
	Digest digest.Engine
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// TrxID and TrxSegs are recorded in the segment header.
	TrxID   uint64
	TrxSegs uint32
}

// Option configures a Buffer.
type Option func(*Options)

// DefaultOptions returns the default buffer options.
func DefaultOptions() Options {
	return Options{
		Layout:  DualCursor,
		Digest:  digest.Default,
		Clock:   time.Now,
		TrxSegs: 1,
	}
}

// WithLayout selects the packing policy.
func WithLayout(l Layout) Option {
	return func(o *Options) { o.Layout = l }
}

// WithDigest sets the digest engine.
func WithDigest(e digest.Engine) Option {
	return func(o *Options) {
		if e != nil {
			o.Digest = e
		}
	}
}

// WithClock sets the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}

// WithTrx sets the transaction id and segment count written at commit.
func WithTrx(id uint64, segs uint32) Option {
	return func(o *Options) {
		o.TrxID = id
		o.TrxSegs = segs
	}
}

func withTrxSegs(segs uint32) Option {
	return func(o *Options) { o.TrxSegs = segs }
}

// placement is where one slice was packed.
type placement struct {
	headerOff uint32
	dataOff   uint32
	dataSize  uint32
}

// Buffer is an in-memory segment image bound to one segment id of a volume.
//
// headPos grows from SegHeaderSize and tailPos shrinks from the end; the
// free space is always tailPos-headPos. A Buffer is not safe for concurrent
// use.
type Buffer struct {
	vol    volume.Volume
	id     uint32
	size   uint32
	packer packer
	engine digest.Engine
	now    func() time.Time

	data       []byte
	headPos    uint32
	tailPos    uint32
	slices     []*Slice
	placements []placement
	keyNum     uint32
	alignedNum uint32

	trxID     uint64
	trxSegs   uint32
	opened    time.Time
	header    SegmentHeader
	committed bool
}

var dataPool sync.Pool

func acquireData(size uint32) []byte {
	if p, ok := dataPool.Get().(*[]byte); ok && cap(*p) >= int(size) {
		b := (*p)[:size]
		clear(b)
		return b
	}
	return make([]byte, size)
}

func releaseData(b []byte) {
	if b != nil {
		dataPool.Put(&b)
	}
}

// NewBuffer creates an empty buffer for segment id of vol.
func NewBuffer(vol volume.Volume, id uint32, optFns ...Option) (*Buffer, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if _, err := vol.SegmentOffset(id); err != nil {
		return nil, err
	}
	size := vol.SegmentSize()
	p := newPacker(opts.Layout)
	if err := checkSegmentSize(size, p); err != nil {
		return nil, err
	}

	return &Buffer{
		vol:     vol,
		id:      id,
		size:    size,
		packer:  p,
		engine:  opts.Digest,
		now:     opts.Clock,
		data:    acquireData(size),
		headPos: SegHeaderSize,
		tailPos: size - p.reserve(),
		trxID:   opts.TrxID,
		trxSegs: opts.TrxSegs,
		opened:  opts.Clock(),
	}, nil
}

func checkSegmentSize(size uint32, p packer) error {
	if size%BlockSize != 0 || size < SegHeaderSize+RecordHeaderSize+p.reserve() {
		return fmt.Errorf("%w: %s segment of %d bytes", ErrInvalidLayout, p.layout(), size)
	}
	return nil
}

// Capacity returns the bytes available to records in an empty segment.
func Capacity(segmentSize uint32, l Layout) uint32 {
	reserve := newPacker(l).reserve()
	if segmentSize < SegHeaderSize+reserve {
		return 0
	}
	return segmentSize - SegHeaderSize - reserve
}

// RecordSize returns the bytes s occupies under layout l.
func RecordSize(s *Slice, l Layout) int64 {
	return recordSize(s, newPacker(l))
}

func recordSize(s *Slice, p packer) int64 {
	switch {
	case s.tombstone:
		return RecordHeaderSize
	case p.aligned(s):
		return RecordHeaderSize + BlockSize
	default:
		return RecordHeaderSize + int64(len(s.value))
	}
}

func (b *Buffer) ID() uint32            { return b.id }
func (b *Buffer) Volume() volume.Volume { return b.vol }
func (b *Buffer) Layout() Layout        { return b.packer.layout() }
func (b *Buffer) Size() uint32          { return b.size }
func (b *Buffer) HeadPos() uint32       { return b.headPos }
func (b *Buffer) TailPos() uint32       { return b.tailPos }
func (b *Buffer) FreeSize() uint32      { return b.tailPos - b.headPos }
func (b *Buffer) KeyNum() uint32        { return b.keyNum }
func (b *Buffer) AlignedNum() uint32    { return b.alignedNum }
func (b *Buffer) Slices() []*Slice      { return b.slices }
func (b *Buffer) Committed() bool       { return b.committed }
func (b *Buffer) OpenedAt() time.Time   { return b.opened }
func (b *Buffer) Header() SegmentHeader { return b.header }
func (b *Buffer) IsEmpty() bool         { return b.keyNum == 0 }

// DigestEngine returns the engine used for slice digests.
func (b *Buffer) DigestEngine() digest.Engine { return b.engine }

// Used returns the bytes taken by records.
func (b *Buffer) Used() uint32 {
	return (b.headPos - SegHeaderSize) + (b.size - b.packer.reserve() - b.tailPos)
}

// SetTrx sets the transaction id and segment count written at commit.
func (b *Buffer) SetTrx(id uint64, segs uint32) {
	b.trxID = id
	b.trxSegs = segs
}

// TryPut appends s if it fits. On failure nothing changes.
func (b *Buffer) TryPut(s *Slice) bool {
	return b.Put(s) == nil
}

// Put appends s, or reports why it cannot. A failed Put leaves the buffer
// unchanged.
func (b *Buffer) Put(s *Slice) error {
	need, err := b.check(s)
	if err != nil {
		return err
	}
	if need > int64(b.tailPos-b.headPos) {
		return ErrSegmentFull
	}
	b.place(s)
	return nil
}

// check validates s and returns its size.
func (b *Buffer) check(s *Slice) (int64, error) {
	if b.committed {
		return 0, ErrAlreadyCommitted
	}
	if _, err := s.Digest(b.engine); err != nil {
		return 0, err
	}
	if uint64(len(s.value)) > math.MaxUint32 {
		return 0, ErrRecordTooLarge
	}
	need := recordSize(s, b.packer)
	if need > int64(b.size-SegHeaderSize-b.packer.reserve()) {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, need)
	}
	return need, nil
}

// TryPutList reports whether every slice fits, in order, without changing
// anything.
func (b *Buffer) TryPutList(slices []*Slice) bool {
	return b.checkList(slices) == nil
}

// PutList appends all slices or none of them.
func (b *Buffer) PutList(slices []*Slice) error {
	if err := b.checkList(slices); err != nil {
		return err
	}
	for _, s := range slices {
		b.place(s)
	}
	return nil
}

func (b *Buffer) checkList(slices []*Slice) error {
	head, tail := b.headPos, b.tailPos
	for _, s := range slices {
		need, err := b.check(s)
		if err != nil {
			return err
		}
		if need > int64(tail-head) {
			return ErrSegmentFull
		}
		if !s.tombstone && b.packer.aligned(s) {
			tail -= BlockSize
			head += RecordHeaderSize
		} else {
			head += uint32(need)
		}
	}
	return nil
}

func (b *Buffer) place(s *Slice) {
	p := placement{headerOff: b.headPos}
	switch {
	case s.tombstone:
		b.headPos += RecordHeaderSize
	case b.packer.aligned(s):
		b.tailPos -= BlockSize
		p.dataOff = b.tailPos
		p.dataSize = BlockSize
		copy(b.data[p.dataOff:], s.value)
		b.headPos += RecordHeaderSize
		b.alignedNum++
	default:
		p.dataOff = p.headerOff + RecordHeaderSize
		p.dataSize = uint32(len(s.value))
		copy(b.data[p.dataOff:], s.value)
		b.headPos = p.dataOff + p.dataSize
	}

	rh := RecordHeader{
		Digest:           s.digest,
		DataSize:         p.dataSize,
		DataOffset:       p.dataOff,
		NextHeaderOffset: b.headPos,
	}
	rh.Encode(b.data[p.headerOff:])

	b.slices = append(b.slices, s)
	b.placements = append(b.placements, p)
	b.keyNum++
}

// WriteSegToDevice seals the segment header and writes the occupied head
// and tail regions with one volume write. If the write fails the buffer is
// left as it was and may be written again.
func (b *Buffer) WriteSegToDevice(ctx context.Context) error {
	if b.committed {
		return ErrAlreadyCommitted
	}
	base, err := b.vol.SegmentOffset(b.id)
	if err != nil {
		return err
	}

	var savedHeader [SegHeaderSize]byte
	var savedTrailer [ChecksumSize]byte
	copy(savedHeader[:], b.data[:SegHeaderSize])
	copy(savedTrailer[:], b.data[b.size-ChecksumSize:])

	h := SegmentHeader{
		Timestamp: uint64(b.now().UnixNano()),
		TrxID:     b.trxID,
		TrxSegs:   b.trxSegs,
		KeyCount:  b.keyNum,
	}
	b.packer.seal(b, &h)

	if err := b.vol.Write(ctx, b.packer.extents(b, base)); err != nil {
		copy(b.data[:SegHeaderSize], savedHeader[:])
		copy(b.data[b.size-ChecksumSize:], savedTrailer[:])
		return fmt.Errorf("write segment %d: %w", b.id, err)
	}

	b.header = h
	b.committed = true
	b.fillEntryToSlice()
	return nil
}

// fillEntryToSlice stores the final location of every slice.
func (b *Buffer) fillEntryToSlice() {
	volID := b.vol.ID()
	for i, s := range b.slices {
		p := b.placements[i]
		s.setEntry(index.Entry{
			Digest: s.digest,
			Location: index.Location{
				Volume:       volID,
				SegmentID:    b.id,
				HeaderOffset: p.headerOff,
				DataOffset:   p.dataOff,
				DataSize:     p.dataSize,
			},
		})
	}
}

// Release returns the segment image to the pool. The buffer must not be
// used afterwards.
func (b *Buffer) Release() {
	releaseData(b.data)
	b.data = nil
}

// lastOccurrence maps every digest to the index of its last slice.
func lastOccurrence(slices []*Slice) map[digest.Digest]int {
	last := make(map[digest.Digest]int, len(slices))
	for i, s := range slices {
		last[s.digest] = i
	}
	return last
}
