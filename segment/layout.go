package segment

import (
	"encoding/binary"
	"errors"

	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/internal/hash"
)

const (
	// BlockSize is the storage block size. Values of exactly this length are
	// aligned records.
	BlockSize = 4096

	// SegHeaderSize is the encoded size of SegmentHeader.
	SegHeaderSize = 8 + 8 + 4 + 4 + 4 + 4

	// RecordHeaderSize is the encoded size of RecordHeader.
	RecordHeaderSize = digest.Size + 4 + 4 + 4

	// ChecksumSize is the trailer reserved by the SingleCursor layout:
	// le32 CRC32C of [0, headPos) followed by le32 headPos.
	ChecksumSize = 4 + 4
)

// Layout selects the packing policy of a buffer.
type Layout uint8

const (
	// DualCursor packs small records from the head and block-sized payloads
	// from the tail.
	DualCursor Layout = iota
	// SingleCursor packs every record from the head and reserves a checksum
	// trailer.
	SingleCursor
)

func (l Layout) String() string {
	switch l {
	case DualCursor:
		return "dual-cursor"
	case SingleCursor:
		return "single-cursor"
	default:
		return "unknown"
	}
}

// SegmentHeader is stored at offset 0 of every committed segment.
type SegmentHeader struct {
	// Timestamp is the commit time in Unix nanoseconds.
	Timestamp uint64
	TrxID     uint64
	// TrxSegs is the number of segments committed by the transaction.
	// Relocation segments written by compaction or migration carry 0.
	TrxSegs        uint32
	DataChecksum   uint32
	LengthChecksum uint32
	KeyCount       uint32
}

// Encode writes h into buf, which must hold SegHeaderSize bytes.
func (h *SegmentHeader) Encode(buf []byte) {
	_ = buf[SegHeaderSize-1]
	binary.LittleEndian.PutUint64(buf[0:], h.Timestamp)
	binary.LittleEndian.PutUint64(buf[8:], h.TrxID)
	binary.LittleEndian.PutUint32(buf[16:], h.TrxSegs)
	binary.LittleEndian.PutUint32(buf[20:], h.DataChecksum)
	binary.LittleEndian.PutUint32(buf[24:], h.LengthChecksum)
	binary.LittleEndian.PutUint32(buf[28:], h.KeyCount)
}

// DecodeSegmentHeader parses a SegmentHeader.
func DecodeSegmentHeader(buf []byte) (SegmentHeader, error) {
	var h SegmentHeader
	if len(buf) < SegHeaderSize {
		return h, errors.New("buffer too small for segment header")
	}
	h.Timestamp = binary.LittleEndian.Uint64(buf[0:])
	h.TrxID = binary.LittleEndian.Uint64(buf[8:])
	h.TrxSegs = binary.LittleEndian.Uint32(buf[16:])
	h.DataChecksum = binary.LittleEndian.Uint32(buf[20:])
	h.LengthChecksum = binary.LittleEndian.Uint32(buf[24:])
	h.KeyCount = binary.LittleEndian.Uint32(buf[28:])
	return h, nil
}

// lengthChecksum covers the cursor positions and every header field except
// the checksums themselves.
func lengthChecksum(h *SegmentHeader, headPos, tailPos uint32) uint32 {
	return hash.Uint32s(headPos, tailPos, h.KeyCount, h.TrxSegs,
		uint32(h.TrxID), uint32(h.TrxID>>32),
		uint32(h.Timestamp), uint32(h.Timestamp>>32))
}

// IsZero reports whether the header was never written.
func (h SegmentHeader) IsZero() bool {
	return h == SegmentHeader{}
}

// RecordHeader precedes every record in the head chain.
type RecordHeader struct {
	Digest   digest.Digest
	DataSize uint32
	// DataOffset is the payload position inside the segment. Zero marks a
	// deletion.
	DataOffset uint32
	// NextHeaderOffset is the position of the following header. For the
	// last record it equals the final head cursor.
	NextHeaderOffset uint32
}

// Encode writes h into buf, which must hold RecordHeaderSize bytes.
func (h *RecordHeader) Encode(buf []byte) {
	_ = buf[RecordHeaderSize-1]
	copy(buf[0:digest.Size], h.Digest[:])
	binary.LittleEndian.PutUint32(buf[digest.Size:], h.DataSize)
	binary.LittleEndian.PutUint32(buf[digest.Size+4:], h.DataOffset)
	binary.LittleEndian.PutUint32(buf[digest.Size+8:], h.NextHeaderOffset)
}

// DecodeRecordHeader parses a RecordHeader.
func DecodeRecordHeader(buf []byte) (RecordHeader, error) {
	var h RecordHeader
	if len(buf) < RecordHeaderSize {
		return h, errors.New("buffer too small for record header")
	}
	copy(h.Digest[:], buf[0:digest.Size])
	h.DataSize = binary.LittleEndian.Uint32(buf[digest.Size:])
	h.DataOffset = binary.LittleEndian.Uint32(buf[digest.Size+4:])
	h.NextHeaderOffset = binary.LittleEndian.Uint32(buf[digest.Size+8:])
	return h, nil
}

// IsTombstone reports whether the header describes a deletion.
func (h RecordHeader) IsTombstone() bool {
	return h.DataOffset == 0
}
