package index

import (
	"fmt"

	"github.com/yonger1516/HLKVDS/digest"
)

// Location identifies the on-disk placement of one record.
type Location struct {
	// Volume is the id of the volume holding the segment.
	Volume uint16
	// SegmentID is the segment within the volume.
	SegmentID uint32
	// HeaderOffset is the byte offset of the record header inside the segment.
	HeaderOffset uint32
	// DataOffset is the byte offset of the payload inside the segment.
	// Zero marks a tombstone.
	DataOffset uint32
	// DataSize is the payload length.
	DataSize uint32
}

// String returns a string representation of the Location.
func (l Location) String() string {
	return fmt.Sprintf("Loc(%d:%d@%d+%d)", l.Volume, l.SegmentID, l.DataOffset, l.DataSize)
}

// IsTombstone reports whether the location describes a deletion record.
func (l Location) IsTombstone() bool {
	return l.DataOffset == 0
}

// Entry is one index entry: a key digest and where its record lives.
type Entry struct {
	Digest   digest.Digest
	Location Location
}

// IsZero reports whether e is the zero entry.
func (e Entry) IsZero() bool {
	return e == Entry{}
}

// Manager is the index contract used by segments.
type Manager interface {
	// Lookup returns the current entry for d.
	Lookup(d digest.Digest) (Entry, bool)
	// Update inserts or replaces the entry for e.Digest.
	Update(e Entry) error
	// CompareAndUpdate replaces old with updated only if the index currently
	// holds exactly old. It reports whether the swap happened.
	CompareAndUpdate(old, updated Entry) (bool, error)
	// Remove deletes e only if the index currently holds exactly e.
	Remove(e Entry) (bool, error)
}
