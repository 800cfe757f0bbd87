package engine

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yonger1516/HLKVDS/segment"
)

// recover rebuilds the index and the segment accounting. It returns the
// highest transaction id seen, which seeds the transaction counter.
func (e *Engine) recover(ctx context.Context) (uint64, error) {
	start := time.Now()

	var watermark uint64
	if e.snap != nil {
		w, err := e.snap.LoadFile(e.opts.FileSystem, e.opts.SnapshotPath)
		switch {
		case err == nil:
			watermark = w
		case errors.Is(err, os.ErrNotExist):
		default:
			return 0, err
		}
	}

	segs, err := e.scan(ctx)
	if err != nil {
		return 0, err
	}

	maxTrx := watermark
	var replay []*segment.Segment
	for _, seg := range segs {
		if seg.Header.TrxID > maxTrx {
			maxTrx = seg.Header.TrxID
		}
		if seg.Header.TrxID > watermark {
			replay = append(replay, seg)
		}
	}
	sort.SliceStable(replay, func(i, j int) bool {
		return replay[i].Header.TrxID < replay[j].Header.TrxID
	})
	for _, seg := range replay {
		if err := e.replay(seg); err != nil {
			return 0, err
		}
	}

	live := 0
	for _, seg := range segs {
		if e.account(seg) {
			live++
		}
	}

	if e.logger != nil {
		e.logger.Info("recovery finished",
			"watermark", watermark,
			"segments", len(segs),
			"replayed", len(replay),
			"live", live,
			"trx", maxTrx,
			"duration", time.Since(start))
	}
	return maxTrx, nil
}

// scan reads every segment of the volume in parallel. Torn and never
// written segments are skipped.
func (e *Engine) scan(ctx context.Context) ([]*segment.Segment, error) {
	n := e.vol.NumSegments()
	found := make([]*segment.Segment, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for id := uint32(0); id < n; id++ {
		g.Go(func() error {
			seg, err := segment.ReadSegment(gctx, e.vol, id)
			switch {
			case err == nil:
				found[id] = seg
			case errors.Is(err, segment.ErrEmptySegment):
			case errors.Is(err, segment.ErrChecksumMismatch), errors.Is(err, segment.ErrCorruptRecord):
				if e.logger != nil {
					e.logger.Warn("discarding torn segment", "segment", id, "error", err)
				}
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	segs := make([]*segment.Segment, 0, n)
	for _, seg := range found {
		if seg != nil {
			segs = append(segs, seg)
		}
	}
	return segs, nil
}

// replay applies the records of seg to the index.
func (e *Engine) replay(seg *segment.Segment) error {
	volID := e.vol.ID()
	for _, rec := range seg.Records {
		if !rec.IsTombstone() {
			if err := e.idx.Update(rec.Entry(volID, seg.ID)); err != nil {
				return err
			}
			continue
		}
		if cur, ok := e.idx.Lookup(rec.Digest); ok {
			if _, err := e.idx.Remove(cur); err != nil {
				return err
			}
		}
	}
	return nil
}

// account registers seg as committed when the index still points into it,
// and charges its dead records as garbage. It reports whether seg is live.
func (e *Engine) account(seg *segment.Segment) bool {
	volID := e.vol.ID()
	var used, live uint32
	for _, rec := range seg.Records {
		used += rec.Size()
		if rec.IsTombstone() {
			continue
		}
		if cur, ok := e.idx.Lookup(rec.Digest); ok && cur == rec.Entry(volID, seg.ID) {
			live += rec.Size()
		}
	}
	if live == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.alloc.MarkUsed(seg.ID); err != nil {
		return false
	}
	e.committed.Add(seg.ID)
	e.used[seg.ID] = used
	e.garbage[seg.ID] = used - live
	return true
}
