package segment

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/index"
	"github.com/yonger1516/HLKVDS/internal/hash"
	"github.com/yonger1516/HLKVDS/volume"
)

// Record is one record recovered from a committed segment.
type Record struct {
	Digest       digest.Digest
	HeaderOffset uint32
	DataOffset   uint32
	DataSize     uint32
	// Value aliases the segment image it was parsed from.
	Value []byte

	aligned bool
}

func (r Record) IsTombstone() bool { return r.DataOffset == 0 }

// Aligned reports whether the payload lives in a tail block. The block may
// start right after the header when it filled the segment.
func (r Record) Aligned() bool { return r.aligned }

// Size returns the bytes the record occupies in its segment.
func (r Record) Size() uint32 {
	return RecordHeaderSize + r.DataSize
}

// Entry returns the index entry pointing at r.
func (r Record) Entry(vol uint16, segID uint32) index.Entry {
	return index.Entry{
		Digest: r.Digest,
		Location: index.Location{
			Volume:       vol,
			SegmentID:    segID,
			HeaderOffset: r.HeaderOffset,
			DataOffset:   r.DataOffset,
			DataSize:     r.DataSize,
		},
	}
}

// Segment is a verified, parsed segment image.
type Segment struct {
	ID      uint32
	Header  SegmentHeader
	Layout  Layout
	HeadPos uint32
	TailPos uint32
	Records []Record
}

// ReadSegment reads segment id from vol, verifies it and walks its header
// chain.
func ReadSegment(ctx context.Context, vol volume.Volume, id uint32) (*Segment, error) {
	off, err := vol.SegmentOffset(id)
	if err != nil {
		return nil, err
	}
	data := make([]byte, vol.SegmentSize())
	if _, err := vol.ReadAt(ctx, data, off); err != nil {
		return nil, fmt.Errorf("read segment %d: %w", id, err)
	}
	return ParseSegment(id, data)
}

// ParseSegment verifies and parses a full segment image. Record values
// alias data.
func ParseSegment(id uint32, data []byte) (*Segment, error) {
	h, err := DecodeSegmentHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %d: %v", ErrInvalidLayout, id, err)
	}
	if h.IsZero() {
		return nil, ErrEmptySegment
	}

	size := uint32(len(data))
	seg := &Segment{ID: id, Header: h, Layout: DualCursor}
	limit := size
	var trailerHead uint32
	if h.DataChecksum == 0 && h.LengthChecksum == 0 {
		if size < SegHeaderSize+ChecksumSize {
			return nil, fmt.Errorf("%w: segment %d", ErrChecksumMismatch, id)
		}
		seg.Layout = SingleCursor
		limit = size - ChecksumSize
		crc := binary.LittleEndian.Uint32(data[limit:])
		trailerHead = binary.LittleEndian.Uint32(data[limit+4:])
		if trailerHead < SegHeaderSize || trailerHead > limit || hash.CRC32C(data[:trailerHead]) != crc {
			return nil, fmt.Errorf("%w: segment %d trailer", ErrChecksumMismatch, id)
		}
	}

	if uint64(h.KeyCount)*RecordHeaderSize > uint64(limit-SegHeaderSize) {
		return nil, fmt.Errorf("%w: segment %d claims %d keys", ErrCorruptRecord, id, h.KeyCount)
	}

	pos, tail := uint32(SegHeaderSize), limit
	seg.Records = make([]Record, 0, h.KeyCount)
	for i := uint32(0); i < h.KeyCount; i++ {
		rec, next, err := parseRecord(data[:limit], pos, seg.Layout)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d record %d: %v", ErrCorruptRecord, id, i, err)
		}
		if rec.Aligned() && rec.DataOffset < tail {
			tail = rec.DataOffset
		}
		seg.Records = append(seg.Records, rec)
		pos = next
	}
	if pos > tail {
		return nil, fmt.Errorf("%w: segment %d head %d past tail %d", ErrCorruptRecord, id, pos, tail)
	}
	seg.HeadPos, seg.TailPos = pos, tail

	switch seg.Layout {
	case SingleCursor:
		if pos != trailerHead {
			return nil, fmt.Errorf("%w: segment %d head %d, trailer %d", ErrChecksumMismatch, id, pos, trailerHead)
		}
	default:
		crc := hash.CRC32C(data[SegHeaderSize:pos])
		crc = hash.Extend(crc, data[tail:size])
		if crc != h.DataChecksum || lengthChecksum(&h, pos, tail) != h.LengthChecksum {
			return nil, fmt.Errorf("%w: segment %d", ErrChecksumMismatch, id)
		}
	}
	return seg, nil
}

func parseRecord(data []byte, pos uint32, l Layout) (Record, uint32, error) {
	limit := uint32(len(data))
	if uint64(pos)+RecordHeaderSize > uint64(limit) {
		return Record{}, 0, fmt.Errorf("header at %d out of bounds", pos)
	}
	rh, err := DecodeRecordHeader(data[pos:])
	if err != nil {
		return Record{}, 0, err
	}
	rec := Record{
		Digest:       rh.Digest,
		HeaderOffset: pos,
		DataOffset:   rh.DataOffset,
		DataSize:     rh.DataSize,
	}

	want := pos + RecordHeaderSize
	switch {
	case rh.IsTombstone():
		if rh.DataSize != 0 {
			return Record{}, 0, fmt.Errorf("deletion with %d bytes", rh.DataSize)
		}
	case l == DualCursor && rh.DataSize == BlockSize:
		// Inline payloads are never block-sized in this layout.
		if rh.DataOffset%BlockSize != 0 || uint64(rh.DataOffset)+BlockSize > uint64(limit) || rh.DataOffset < want {
			return Record{}, 0, fmt.Errorf("misplaced block at %d", rh.DataOffset)
		}
		rec.aligned = true
	case rh.DataOffset == want:
		if uint64(rh.DataOffset)+uint64(rh.DataSize) > uint64(limit) {
			return Record{}, 0, fmt.Errorf("payload [%d+%d] out of bounds", rh.DataOffset, rh.DataSize)
		}
		want = rh.DataOffset + rh.DataSize
	default:
		return Record{}, 0, fmt.Errorf("misplaced payload at %d", rh.DataOffset)
	}
	if rh.NextHeaderOffset != want {
		return Record{}, 0, fmt.Errorf("next header %d, expected %d", rh.NextHeaderOffset, want)
	}
	if !rec.IsTombstone() {
		rec.Value = data[rec.DataOffset : rec.DataOffset+rec.DataSize]
	}
	return rec, want, nil
}
