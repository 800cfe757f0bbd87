package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/yonger1516/HLKVDS/index"
	"github.com/yonger1516/HLKVDS/volume"
)

var errNotCommitted = errors.New("segment: index update before device write")

// Purpose tells why a SliceSegment is written.
type Purpose uint8

const (
	// PurposeCompaction rewrites live records out of mostly-garbage segments.
	PurposeCompaction Purpose = iota
	// PurposeMigration relocates live records from another volume.
	PurposeMigration
	// PurposeDirect writes new records without waiting producers.
	PurposeDirect
)

func (p Purpose) String() string {
	switch p {
	case PurposeCompaction:
		return "compaction"
	case PurposeMigration:
		return "migration"
	case PurposeDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// SliceSegment is written synchronously by the goroutine that fills it and
// updates the index on that same goroutine.
type SliceSegment struct {
	buf     *Buffer
	idx     index.Manager
	purpose Purpose
	updated bool
}

// NewSliceSegment opens a slice segment. Relocation segments record a
// transaction segment count of zero unless overridden by WithTrx.
func NewSliceSegment(vol volume.Volume, id uint32, idx index.Manager, purpose Purpose, optFns ...Option) (*SliceSegment, error) {
	if purpose != PurposeDirect {
		optFns = append([]Option{withTrxSegs(0)}, optFns...)
	}
	buf, err := NewBuffer(vol, id, optFns...)
	if err != nil {
		return nil, err
	}
	return &SliceSegment{buf: buf, idx: idx, purpose: purpose}, nil
}

// NewLatencyFriendly opens a direct-write segment with the single-cursor
// layout.
func NewLatencyFriendly(vol volume.Volume, id uint32, idx index.Manager, optFns ...Option) (*SliceSegment, error) {
	optFns = append(optFns, WithLayout(SingleCursor))
	return NewSliceSegment(vol, id, idx, PurposeDirect, optFns...)
}

func (g *SliceSegment) ID() uint32       { return g.buf.id }
func (g *SliceSegment) Buffer() *Buffer  { return g.buf }
func (g *SliceSegment) Purpose() Purpose { return g.purpose }

func (g *SliceSegment) TryPut(s *Slice) bool            { return g.buf.TryPut(s) }
func (g *SliceSegment) Put(s *Slice) error              { return g.buf.Put(s) }
func (g *SliceSegment) TryPutList(slices []*Slice) bool { return g.buf.TryPutList(slices) }
func (g *SliceSegment) PutList(slices []*Slice) error   { return g.buf.PutList(slices) }

func (g *SliceSegment) WriteSegToDevice(ctx context.Context) error {
	return g.buf.WriteSegToDevice(ctx)
}

// Commit writes the segment and updates the index. It returns the entries
// that became garbage.
func (g *SliceSegment) Commit(ctx context.Context) ([]index.Entry, error) {
	if err := g.buf.WriteSegToDevice(ctx); err != nil {
		return nil, err
	}
	return g.UpdateToIndex()
}

// UpdateToIndex publishes the new locations. A slice carrying a Before
// entry only replaces that exact entry; if the index moved on meanwhile the
// relocated copy is garbage. Slices without Before overwrite the index.
//
// The returned entries are records that no longer back any index entry.
func (g *SliceSegment) UpdateToIndex() ([]index.Entry, error) {
	if !g.buf.committed {
		return nil, errNotCommitted
	}
	if g.updated {
		return nil, ErrAlreadyCommitted
	}
	g.updated = true

	var stale []index.Entry
	last := lastOccurrence(g.buf.slices)
	for i, s := range g.buf.slices {
		e := s.Entry()
		if last[s.digest] != i {
			stale = append(stale, e)
			continue
		}

		if s.tombstone {
			stale = append(stale, e)
			if cur, ok := g.idx.Lookup(s.digest); ok {
				removed, err := g.idx.Remove(cur)
				if err != nil {
					return stale, fmt.Errorf("index remove: %w", err)
				}
				if removed {
					stale = append(stale, cur)
				}
			}
			continue
		}

		if before, ok := s.Before(); ok {
			swapped, err := g.idx.CompareAndUpdate(before, e)
			if err != nil {
				return stale, fmt.Errorf("index update: %w", err)
			}
			if swapped {
				stale = append(stale, before)
			} else {
				stale = append(stale, e)
			}
			continue
		}

		cur, ok := g.idx.Lookup(s.digest)
		if err := g.idx.Update(e); err != nil {
			return stale, fmt.Errorf("index update: %w", err)
		}
		if ok && cur != e {
			stale = append(stale, cur)
		}
	}
	return stale, nil
}
