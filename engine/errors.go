package engine

import "errors"

var (
	// ErrNotFound is returned when a key has no live record.
	//
	// This is an engine-layer sentinel; the hlkvds package translates it into
	// its public error contract.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine: closed")

	// ErrCommitFailed is returned to every producer of a batch whose segment
	// could not be written or indexed.
	ErrCommitFailed = errors.New("engine: segment commit failed")

	// ErrBatchTooLarge is returned when a batch does not fit one segment.
	ErrBatchTooLarge = errors.New("engine: batch larger than segment")

	// ErrUnknownVolume is returned when the index points at a volume that was
	// never attached.
	ErrUnknownVolume = errors.New("engine: unknown volume")
)
