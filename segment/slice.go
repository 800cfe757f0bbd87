package segment

import (
	"errors"
	"fmt"

	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/index"
)

// Ownership tells whether a Slice aliases caller memory or owns a copy.
type Ownership uint8

const (
	// Borrowed slices alias caller buffers, which must stay untouched until
	// the owning request completes.
	Borrowed Ownership = iota
	// Owned slices hold a private copy of key and value.
	Owned
)

func (o Ownership) String() string {
	if o == Owned {
		return "owned"
	}
	return "borrowed"
}

// Slice is one key/value record on its way into a segment.
type Slice struct {
	key       []byte
	value     []byte
	ownership Ownership
	tombstone bool

	digest    digest.Digest
	hasDigest bool

	entry     index.Entry
	before    index.Entry
	hasBefore bool
	located   bool
}

// NewSlice returns a slice aliasing key and value.
func NewSlice(key, value []byte) *Slice {
	return &Slice{key: key, value: value, ownership: Borrowed}
}

// NewOwnedSlice returns a slice holding copies of key and value.
func NewOwnedSlice(key, value []byte) *Slice {
	s := &Slice{ownership: Owned}
	if key != nil {
		s.key = append(make([]byte, 0, len(key)), key...)
	}
	if value != nil {
		s.value = append(make([]byte, 0, len(value)), value...)
	}
	return s
}

// NewTombstone returns a deletion record for key.
func NewTombstone(key []byte) *Slice {
	return &Slice{key: key, ownership: Borrowed, tombstone: true}
}

// NewRelocation returns a slice for a record that already lives on disk,
// identified by its digest. before is the index entry the relocation
// replaces; the index is only updated if it still holds that entry.
func NewRelocation(d digest.Digest, value []byte, before index.Entry) *Slice {
	return &Slice{
		value:     value,
		ownership: Borrowed,
		digest:    d,
		hasDigest: true,
		before:    before,
		hasBefore: true,
	}
}

func (s *Slice) Key() []byte          { return s.key }
func (s *Slice) Value() []byte        { return s.value }
func (s *Slice) KeyLen() int          { return len(s.key) }
func (s *Slice) ValueLen() int        { return len(s.value) }
func (s *Slice) Ownership() Ownership { return s.ownership }
func (s *Slice) IsTombstone() bool    { return s.tombstone }

// CachedDigest returns the digest without computing it. HasDigest tells
// whether it is valid.
func (s *Slice) CachedDigest() digest.Digest { return s.digest }

func (s *Slice) HasDigest() bool { return s.hasDigest }

// IsAlignedData reports whether the value is exactly one storage block.
func (s *Slice) IsAlignedData() bool {
	return !s.tombstone && len(s.value) == BlockSize
}

// Digest computes the key digest once and caches it.
func (s *Slice) Digest(engine digest.Engine) (digest.Digest, error) {
	if s.hasDigest {
		return s.digest, nil
	}
	d, err := engine.Compute(s.key)
	if err != nil {
		if errors.Is(err, digest.ErrNilKey) {
			return d, ErrNoKey
		}
		return d, fmt.Errorf("compute digest: %w", err)
	}
	s.digest = d
	s.hasDigest = true
	return d, nil
}

// Entry returns the index entry describing where the slice was committed.
// It is the zero entry until the segment holding the slice is written.
func (s *Slice) Entry() index.Entry { return s.entry }

// Located reports whether Entry is valid.
func (s *Slice) Located() bool { return s.located }

// SegmentID returns the segment the slice landed in.
func (s *Slice) SegmentID() (uint32, bool) {
	return s.entry.Location.SegmentID, s.located
}

// Before returns the index entry that was current when the slice was enqueued.
func (s *Slice) Before() (index.Entry, bool) { return s.before, s.hasBefore }

// SetBefore records the index entry current at enqueue time.
func (s *Slice) SetBefore(e index.Entry) {
	s.before = e
	s.hasBefore = true
}

func (s *Slice) setEntry(e index.Entry) {
	s.entry = e
	s.located = true
}
