package segment

import "errors"

var (
	// ErrSegmentFull is returned when a record does not fit the remaining free space.
	ErrSegmentFull = errors.New("segment: not enough free space")
	// ErrRecordTooLarge is returned when a record could not fit even an empty segment.
	ErrRecordTooLarge = errors.New("segment: record larger than segment")
	// ErrNoKey is returned when a digest is needed for a slice without key.
	ErrNoKey = errors.New("segment: slice has no key")
	// ErrInvalidLayout is returned for a segment size the layout cannot hold.
	ErrInvalidLayout = errors.New("segment: invalid segment layout")
	// ErrChecksumMismatch is returned when a stored segment fails verification.
	ErrChecksumMismatch = errors.New("segment: checksum mismatch")
	// ErrCorruptRecord is returned when the header chain points outside the segment.
	ErrCorruptRecord = errors.New("segment: corrupt record header")
	// ErrAlreadyCommitted is returned when a committed buffer is modified or written again.
	ErrAlreadyCommitted = errors.New("segment: already committed")
	// ErrEmptySegment is returned when reading a segment that was never committed.
	ErrEmptySegment = errors.New("segment: empty segment")
)
