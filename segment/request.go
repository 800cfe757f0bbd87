package segment

import (
	"context"
	"sync"
)

// Status is the outcome of a request.
type Status uint8

const (
	StatusInit Status = iota
	StatusFail
	StatusSuccess
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusFail:
		return "fail"
	case StatusSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Request wraps a Slice for a producer that waits for the commit outcome.
//
// The terminal status is set exactly once. Each request has its own
// completion channel, so waking one producer never touches another.
type Request struct {
	slice *Slice
	shard int

	mu       sync.Mutex
	status   Status
	done     chan struct{}
	segID    uint32
	attached bool
}

// NewRequest creates a pending request.
func NewRequest(s *Slice, shard int) *Request {
	return &Request{
		slice: s,
		shard: shard,
		done:  make(chan struct{}),
	}
}

func (r *Request) Slice() *Slice { return r.slice }

// Shard returns the routing shard. Segments never interpret it.
func (r *Request) Shard() int { return r.shard }

// SegmentID returns the id of the segment that accepted the request.
func (r *Request) SegmentID() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segID, r.attached
}

func (r *Request) attach(id uint32) {
	r.mu.Lock()
	r.segID = id
	r.attached = true
	r.mu.Unlock()
}

// Status returns the current status without blocking.
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Notify sets the terminal status and wakes the waiter. Only the first call
// with a terminal status has an effect; it reports whether it did.
func (r *Request) Notify(st Status) bool {
	if st == StatusInit {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusInit {
		return false
	}
	r.status = st
	close(r.done)
	return true
}

// Done returns a channel closed once the request reached a terminal status.
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the request is notified and returns its status.
func (r *Request) Wait() Status {
	<-r.done
	return r.Status()
}

// WaitContext is like Wait but gives up when ctx is done. Giving up does not
// withdraw the record; it may still be committed.
func (r *Request) WaitContext(ctx context.Context) (Status, error) {
	select {
	case <-r.done:
		return r.Status(), nil
	case <-ctx.Done():
		return StatusInit, ctx.Err()
	}
}
