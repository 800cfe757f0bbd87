package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yonger1516/HLKVDS/index"
	"github.com/yonger1516/HLKVDS/volume"
)

var errNotWritten = errors.New("segment: completion before device write")

// ReqSegment is the producer-facing segment. It collects Requests, commits
// them as one batch and wakes every producer with the batch outcome.
type ReqSegment struct {
	buf     *Buffer
	idx     index.Manager
	timeout time.Duration

	reqs      []*Request
	stale     []index.Entry
	completed bool
	status    Status
}

// NewReqSegment opens a request segment for segment id of vol. A timeout of
// zero or less disables expiry.
func NewReqSegment(vol volume.Volume, id uint32, idx index.Manager, timeout time.Duration, optFns ...Option) (*ReqSegment, error) {
	buf, err := NewBuffer(vol, id, optFns...)
	if err != nil {
		return nil, err
	}
	return &ReqSegment{buf: buf, idx: idx, timeout: timeout}, nil
}

func (c *ReqSegment) ID() uint32             { return c.buf.id }
func (c *ReqSegment) Buffer() *Buffer        { return c.buf }
func (c *ReqSegment) Requests() []*Request   { return c.reqs }
func (c *ReqSegment) Len() int               { return len(c.reqs) }
func (c *ReqSegment) Status() Status         { return c.status }
func (c *ReqSegment) Timeout() time.Duration { return c.timeout }

// TryPut accepts r if its slice fits.
func (c *ReqSegment) TryPut(r *Request) bool {
	return c.Put(r) == nil
}

// Put accepts r or reports why it cannot. A rejected request is untouched.
func (c *ReqSegment) Put(r *Request) error {
	if err := c.buf.Put(r.slice); err != nil {
		return err
	}
	r.attach(c.buf.id)
	c.reqs = append(c.reqs, r)
	return nil
}

// IsExpired reports whether the segment has been open longer than its
// timeout, whether or not it holds any record.
func (c *ReqSegment) IsExpired() bool {
	if c.timeout <= 0 {
		return false
	}
	return c.buf.now().Sub(c.buf.opened) > c.timeout
}

// Commit writes the segment and runs Completion with the outcome.
func (c *ReqSegment) Commit(ctx context.Context) error {
	return c.Completion(c.buf.WriteSegToDevice(ctx))
}

// Completion finishes the batch after the device write attempt. On success
// it updates the index and removes superseded entries; either way it
// notifies every request exactly once with the same status. It returns the
// error that failed the batch.
func (c *ReqSegment) Completion(writeErr error) error {
	if c.completed {
		return ErrAlreadyCommitted
	}
	c.completed = true

	err := writeErr
	if err == nil && !c.buf.committed {
		err = errNotWritten
	}
	if err == nil {
		err = c.updateIndex()
	}

	status := StatusSuccess
	if err != nil {
		status = StatusFail
	}
	c.Notify(status)
	return err
}

func (c *ReqSegment) updateIndex() error {
	stale := c.CleanDeletedEntry()
	last := lastOccurrence(c.buf.slices)
	for i, s := range c.buf.slices {
		if last[s.digest] != i || s.tombstone {
			continue
		}
		if err := c.idx.Update(s.Entry()); err != nil {
			return fmt.Errorf("index update: %w", err)
		}
	}
	for _, e := range stale {
		if _, err := c.idx.Remove(e); err != nil {
			return fmt.Errorf("index remove: %w", err)
		}
	}
	return nil
}

// CleanDeletedEntry collects the entries the batch supersedes: earlier
// records of a digest written again later in the same batch, deletion
// records themselves, and the entry the index holds for each digest when
// the batch commits. Reading the index at commit time also catches entries
// that were relocated or replaced after the request was enqueued.
//
// It must run after the device write and before the index is updated. The
// result is cached.
func (c *ReqSegment) CleanDeletedEntry() []index.Entry {
	if c.stale != nil {
		return c.stale
	}
	c.stale = supersededEntries(c.buf.slices, c.idx)
	return c.stale
}

func supersededEntries(slices []*Slice, idx index.Manager) []index.Entry {
	out := make([]index.Entry, 0)
	seen := make(map[index.Entry]struct{})
	add := func(e index.Entry) {
		if e.IsZero() {
			return
		}
		if _, ok := seen[e]; ok {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	last := lastOccurrence(slices)
	for i, s := range slices {
		if last[s.digest] != i {
			add(s.Entry())
			continue
		}
		if s.tombstone {
			add(s.Entry())
		}
		if cur, ok := idx.Lookup(s.digest); ok && cur != s.Entry() {
			add(cur)
		}
	}
	return out
}

// Stale returns the entries collected by CleanDeletedEntry.
func (c *ReqSegment) Stale() []index.Entry { return c.stale }

// Notify wakes every queued request with st.
func (c *ReqSegment) Notify(st Status) {
	c.status = st
	for _, r := range c.reqs {
		r.Notify(st)
	}
}
