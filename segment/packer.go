package segment

import (
	"encoding/binary"

	"github.com/yonger1516/HLKVDS/internal/hash"
	"github.com/yonger1516/HLKVDS/volume"
)

// packer is the placement and sealing policy of a Buffer.
type packer interface {
	layout() Layout
	// reserve is the number of bytes at the end of the segment never used
	// for records.
	reserve() uint32
	// aligned reports whether s goes to the tail.
	aligned(s *Slice) bool
	// seal completes h with checksums and encodes it, plus any trailer.
	seal(b *Buffer, h *SegmentHeader)
	// extents returns the regions to write, relative to base.
	extents(b *Buffer, base int64) []volume.Extent
}

func newPacker(l Layout) packer {
	if l == SingleCursor {
		return singleCursor{}
	}
	return dualCursor{}
}

type dualCursor struct{}

func (dualCursor) layout() Layout  { return DualCursor }
func (dualCursor) reserve() uint32 { return 0 }

func (dualCursor) aligned(s *Slice) bool { return s.IsAlignedData() }

func (dualCursor) seal(b *Buffer, h *SegmentHeader) {
	crc := hash.CRC32C(b.data[SegHeaderSize:b.headPos])
	crc = hash.Extend(crc, b.data[b.tailPos:b.size])
	h.DataChecksum = crc
	h.LengthChecksum = lengthChecksum(h, b.headPos, b.tailPos)
	h.Encode(b.data[:SegHeaderSize])
}

func (dualCursor) extents(b *Buffer, base int64) []volume.Extent {
	ext := []volume.Extent{{Off: base, Data: b.data[:b.headPos]}}
	if b.tailPos < b.size {
		ext = append(ext, volume.Extent{Off: base + int64(b.tailPos), Data: b.data[b.tailPos:b.size]})
	}
	return ext
}

type singleCursor struct{}

func (singleCursor) layout() Layout  { return SingleCursor }
func (singleCursor) reserve() uint32 { return ChecksumSize }

func (singleCursor) aligned(*Slice) bool { return false }

// seal leaves the header checksum fields zero; the trailer covers the
// header and every record.
func (singleCursor) seal(b *Buffer, h *SegmentHeader) {
	h.DataChecksum = 0
	h.LengthChecksum = 0
	h.Encode(b.data[:SegHeaderSize])

	trailer := b.data[b.size-ChecksumSize : b.size]
	binary.LittleEndian.PutUint32(trailer[0:], hash.CRC32C(b.data[:b.headPos]))
	binary.LittleEndian.PutUint32(trailer[4:], b.headPos)
}

func (singleCursor) extents(b *Buffer, base int64) []volume.Extent {
	return []volume.Extent{
		{Off: base, Data: b.data[:b.headPos]},
		{Off: base + int64(b.size-ChecksumSize), Data: b.data[b.size-ChecksumSize : b.size]},
	}
}
