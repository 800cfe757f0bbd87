package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yonger1516/HLKVDS/resource"
	"github.com/yonger1516/HLKVDS/segment"
	"github.com/yonger1516/HLKVDS/volume"
)

// CompactionResult summarizes a Compact or Migrate pass.
type CompactionResult struct {
	// Segments is the number of source segments processed.
	Segments int
	// Moved is the number of records rewritten.
	Moved int
	// Written is the number of new segments.
	Written int
}

// Candidates returns the committed segments whose garbage ratio reached the
// configured threshold, most garbage first.
func (e *Engine) Candidates() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []uint32
	it := e.committed.Iterator()
	for it.HasNext() {
		id := it.Next()
		if e.garbageRatioLocked(id) >= e.opts.GarbageThreshold {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return e.garbageRatioLocked(ids[i]) > e.garbageRatioLocked(ids[j])
	})
	return ids
}

// Compact rewrites the live records of every candidate segment into new
// segments and frees the candidates.
func (e *Engine) Compact(ctx context.Context) (res CompactionResult, err error) {
	if e.isClosed() {
		return res, ErrClosed
	}
	e.compactMu.Lock()
	defer e.compactMu.Unlock()
	if e.isClosed() {
		return res, ErrClosed
	}

	start := time.Now()
	defer func() {
		e.metrics.OnCompaction(res.Segments, res.Moved, time.Since(start), err)
	}()

	rc := e.opts.Resources
	if err := rc.AcquireBackground(ctx); err != nil {
		return res, err
	}
	defer rc.ReleaseBackground()

	ids := e.Candidates()
	if len(ids) == 0 {
		return res, nil
	}

	vol := resource.ThrottleVolume(e.vol, rc)
	rel := e.newRelocator(vol, segment.PurposeCompaction)
	defer rel.discard()

	var sources []uint32
	for _, id := range ids {
		err := rel.relocateFrom(ctx, vol, id)
		if errors.Is(err, segment.ErrChecksumMismatch) || errors.Is(err, segment.ErrCorruptRecord) {
			e.logError("skipping unreadable segment", err, "segment", id)
			continue
		}
		if err != nil {
			return res, err
		}
		sources = append(sources, id)
	}
	if err := rel.flush(ctx); err != nil {
		return res, err
	}
	res.Moved, res.Written = rel.moved, rel.written
	res.Segments = len(sources)

	// The snapshot must point at the new copies before the sources can be
	// overwritten.
	if err := e.saveSnapshot(); err != nil {
		return res, err
	}
	e.freeSegments(ctx, sources)

	if e.logger != nil {
		e.logger.Info("compaction finished", "segments", res.Segments, "moved", res.Moved,
			"written", res.Written, "duration", time.Since(start))
	}
	return res, nil
}

// Migrate moves the records the index maps to segments ids of src into the
// engine volume. src is attached for lookups and left untouched.
func (e *Engine) Migrate(ctx context.Context, src volume.Volume, ids []uint32) (res CompactionResult, err error) {
	if e.isClosed() {
		return res, ErrClosed
	}
	if src.ID() == e.vol.ID() {
		return res, fmt.Errorf("engine: migrate from own volume %d", src.ID())
	}
	if err := e.Attach(src); err != nil {
		return res, err
	}

	e.compactMu.Lock()
	defer e.compactMu.Unlock()
	if e.isClosed() {
		return res, ErrClosed
	}

	start := time.Now()
	defer func() {
		e.metrics.OnCompaction(res.Segments, res.Moved, time.Since(start), err)
	}()

	rc := e.opts.Resources
	if err := rc.AcquireBackground(ctx); err != nil {
		return res, err
	}
	defer rc.ReleaseBackground()

	in := resource.ThrottleVolume(src, rc)
	rel := e.newRelocator(resource.ThrottleVolume(e.vol, rc), segment.PurposeMigration)
	defer rel.discard()

	for _, id := range ids {
		err := rel.relocateFrom(ctx, in, id)
		if errors.Is(err, segment.ErrEmptySegment) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("migrate segment %d: %w", id, err)
		}
		res.Segments++
	}
	if err := rel.flush(ctx); err != nil {
		return res, err
	}
	res.Moved, res.Written = rel.moved, rel.written

	if err := e.saveSnapshot(); err != nil {
		return res, err
	}
	if e.logger != nil {
		e.logger.Info("migration finished", "source", src.ID(), "segments", res.Segments,
			"moved", res.Moved, "duration", time.Since(start))
	}
	return res, nil
}

// freeSegments drops the accounting of ids, discards them when the volume
// supports it and returns them to the allocator.
func (e *Engine) freeSegments(ctx context.Context, ids []uint32) {
	e.freeMu.Lock()
	defer e.freeMu.Unlock()

	d, canDiscard := e.vol.(volume.Discarder)
	for _, id := range ids {
		e.mu.Lock()
		e.committed.Remove(id)
		delete(e.used, id)
		delete(e.garbage, id)
		e.mu.Unlock()

		if canDiscard {
			if err := d.Discard(ctx, id); err != nil {
				e.logError("discard failed", err, "segment", id)
			}
		}
		e.release(id)
	}
}

// relocator collects records that are still live and writes them into
// relocation segments. Pending records alias the source images they were
// read from; the images stay charged against the memory limit until the
// records are written.
type relocator struct {
	e       *Engine
	vol     volume.Volume
	purpose segment.Purpose

	capacity     int64
	pending      []*segment.Slice
	pendingBytes int64
	held         int64
	current      int64

	moved   int
	written int
}

func (e *Engine) newRelocator(vol volume.Volume, purpose segment.Purpose) *relocator {
	return &relocator{
		e:        e,
		vol:      vol,
		purpose:  purpose,
		capacity: int64(segment.Capacity(vol.SegmentSize(), segment.DualCursor)),
	}
}

// relocateFrom reads segment id of src and queues its live records.
func (r *relocator) relocateFrom(ctx context.Context, src volume.Volume, id uint32) error {
	rc := r.e.opts.Resources
	size := int64(src.SegmentSize())
	if !rc.TryAcquireMemory(size) {
		if err := r.flush(ctx); err != nil {
			return err
		}
		if err := rc.AcquireMemory(ctx, size); err != nil {
			return err
		}
	}
	r.held += size
	r.current = size
	defer func() { r.current = 0 }()

	seg, err := segment.ReadSegment(ctx, src, id)
	if err != nil {
		return err
	}
	return r.relocate(ctx, src.ID(), seg)
}

// relocate queues every record of seg the index still points at. volID is
// the volume seg was read from.
func (r *relocator) relocate(ctx context.Context, volID uint16, seg *segment.Segment) error {
	for _, rec := range seg.Records {
		if rec.IsTombstone() {
			continue
		}
		entry := rec.Entry(volID, seg.ID)
		if cur, ok := r.e.idx.Lookup(rec.Digest); !ok || cur != entry {
			continue
		}
		s := segment.NewRelocation(rec.Digest, rec.Value, entry)
		size := segment.RecordSize(s, segment.DualCursor)
		if r.pendingBytes+size > r.capacity {
			if err := r.flush(ctx); err != nil {
				return err
			}
		}
		r.pending = append(r.pending, s)
		r.pendingBytes += size
	}
	return nil
}

// flush writes the pending records that are still live into a new segment
// and publishes them. No commit runs meanwhile, so every relocation written
// here is current when its transaction id is assigned.
func (r *relocator) flush(ctx context.Context) error {
	defer r.releaseMemory()
	if len(r.pending) == 0 {
		return nil
	}
	e := r.e

	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	live := make([]*segment.Slice, 0, len(r.pending))
	for _, s := range r.pending {
		before, _ := s.Before()
		if cur, ok := e.idx.Lookup(before.Digest); ok && cur == before {
			live = append(live, s)
		}
	}
	r.pending, r.pendingBytes = r.pending[:0], 0
	if len(live) == 0 {
		return nil
	}

	id, err := e.allocate()
	if err != nil {
		return err
	}
	trx := e.trx.begin()
	defer e.trx.end(trx)

	seg, err := segment.NewSliceSegment(r.vol, id, e.idx, r.purpose, e.segmentOptions(trx, 0)...)
	if err != nil {
		e.release(id)
		return err
	}
	defer seg.Buffer().Release()

	if err := seg.PutList(live); err != nil {
		e.release(id)
		return err
	}
	if err := seg.WriteSegToDevice(ctx); err != nil {
		e.release(id)
		return err
	}
	e.markCommitted(id, seg.Buffer().Used())

	stale, err := seg.UpdateToIndex()
	e.addGarbage(stale)
	if err != nil {
		return err
	}
	r.moved += len(live)
	r.written++
	return nil
}

// releaseMemory returns the images of written records, keeping the one
// still being walked.
func (r *relocator) releaseMemory() {
	if n := r.held - r.current; n > 0 {
		r.e.opts.Resources.ReleaseMemory(n)
		r.held = r.current
	}
}

// discard drops records that were never written.
func (r *relocator) discard() {
	r.pending, r.pendingBytes = nil, 0
	r.current = 0
	r.releaseMemory()
}
