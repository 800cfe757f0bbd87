package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yonger1516/HLKVDS/segment"
)

// shard owns one open request segment. Only its run goroutine touches cur.
type shard struct {
	id    int
	e     *Engine
	reqCh chan *segment.Request

	cur *segment.ReqSegment

	// inflight holds a token while a commit of this shard runs.
	inflight chan struct{}
}

func newShard(e *Engine, id int) *shard {
	return &shard{
		id:       id,
		e:        e,
		reqCh:    make(chan *segment.Request, e.opts.QueueDepth),
		inflight: make(chan struct{}, 1),
	}
}

func (s *shard) run() {
	defer s.e.wg.Done()

	var tick <-chan time.Time
	if s.e.opts.SegmentTimeout > 0 {
		t := time.NewTicker(s.e.opts.tick())
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case r, ok := <-s.reqCh:
			if !ok {
				s.seal(false)
				s.inflight <- struct{}{}
				return
			}
			s.e.metrics.OnQueueDepth(s.id, len(s.reqCh))
			s.add(r)
		case <-tick:
			if s.cur != nil && s.cur.IsExpired() {
				s.seal(true)
			}
		}
	}
}

// add places r into the open segment, sealing it first when r does not fit.
func (s *shard) add(r *segment.Request) {
	if err := s.open(); err != nil {
		s.reject(r, err)
		return
	}

	err := s.cur.Put(r)
	if errors.Is(err, segment.ErrSegmentFull) {
		s.seal(false)
		if err = s.open(); err != nil {
			s.reject(r, err)
			return
		}
		err = s.cur.Put(r)
	}
	if err != nil {
		s.reject(r, err)
		return
	}

	if s.cur.Buffer().FreeSize() < segment.RecordHeaderSize {
		s.seal(false)
	}
}

func (s *shard) open() error {
	if s.cur != nil {
		return nil
	}
	id, err := s.e.allocate()
	if err != nil {
		return err
	}
	seg, err := segment.NewReqSegment(s.e.vol, id, s.e.idx, s.e.opts.SegmentTimeout,
		segment.WithDigest(s.e.opts.Digest), segment.WithClock(s.e.opts.Clock))
	if err != nil {
		s.e.release(id)
		return err
	}
	if err := s.e.arena.Add(seg); err != nil {
		seg.Buffer().Release()
		s.e.release(id)
		return err
	}
	s.cur = seg
	return nil
}

func (s *shard) reject(r *segment.Request, err error) {
	s.e.logError("request rejected", err, slog.Int("shard", s.id))
	r.Notify(segment.StatusFail)
}

// seal hands the open segment to the worker pool. It waits for the
// previous commit of the shard first, so commits stay in seal order.
func (s *shard) seal(expired bool) {
	seg := s.cur
	if seg == nil {
		return
	}
	s.cur = nil

	if seg.Len() == 0 {
		s.e.arena.Retire(seg.ID())
		s.e.release(seg.ID())
		return
	}

	s.inflight <- struct{}{}
	task := func() {
		defer func() { <-s.inflight }()
		s.commit(seg, expired)
	}
	if err := s.e.pool.Submit(context.Background(), task); err != nil {
		task()
	}
}

// commit writes seg, publishes it and wakes its producers.
func (s *shard) commit(seg *segment.ReqSegment, expired bool) {
	e := s.e
	id := seg.ID()
	start := time.Now()

	e.publishMu.RLock()
	trx := e.trx.begin()
	seg.Buffer().SetTrx(trx, 1)
	writeErr := seg.Buffer().WriteSegToDevice(context.Background())
	if writeErr == nil {
		e.trx.awaitTurn(trx)
		e.markCommitted(id, seg.Buffer().Used())
	} else {
		// Logged before the producers wake up.
		s.logFailure(id, seg.Len(), writeErr)
	}
	err := seg.Completion(writeErr)
	keys, bytes := seg.Len(), int(seg.Buffer().Used())

	// Retired before the id can be allocated again.
	e.arena.Retire(id)
	if err != nil {
		if writeErr == nil {
			e.unmarkCommitted(id)
		} else {
			e.release(id)
		}
	} else {
		e.addGarbage(seg.Stale())
	}
	e.trx.end(trx)
	e.publishMu.RUnlock()

	e.metrics.OnCommit(s.id, keys, bytes, time.Since(start), expired, err)

	switch {
	case err != nil && writeErr == nil:
		s.logFailure(id, keys, err)
	case err == nil && expired && e.logger != nil:
		e.logger.Debug("segment committed on timeout", "shard", s.id, "segment", id, "keys", keys, "bytes", bytes)
	}
}

func (s *shard) logFailure(id uint32, keys int, err error) {
	if s.e.logger != nil {
		s.e.logger.Error("segment commit failed", "shard", s.id, "segment", id, "keys", keys, "error", err)
	}
}
