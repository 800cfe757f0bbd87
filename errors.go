package hlkvds

import (
	"errors"
	"fmt"

	"github.com/yonger1516/HLKVDS/engine"
	"github.com/yonger1516/HLKVDS/segment"
	"github.com/yonger1516/HLKVDS/volume"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrEmptyKey is returned for a nil key.
	ErrEmptyKey = errors.New("key must not be nil")

	// ErrFull is returned when the volume has no free segment left.
	ErrFull = errors.New("store full")
)

// ErrRecordTooLarge indicates a value that can never fit a segment.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrRecordTooLarge struct {
	Size  int
	Limit int
	cause error
}

func (e *ErrRecordTooLarge) Error() string {
	return fmt.Sprintf("record too large: %d bytes, limit %d", e.Size, e.Limit)
}

func (e *ErrRecordTooLarge) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, engine.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, segment.ErrNoKey):
		return fmt.Errorf("%w: %w", ErrEmptyKey, err)
	case errors.Is(err, volume.ErrNoFreeSegment):
		return fmt.Errorf("%w: %w", ErrFull, err)
	}
	return err
}
