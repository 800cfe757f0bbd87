package metrics

import (
	"sync/atomic"
	"time"
)

// Operation names passed to Observer.OnRequest.
const (
	OpPut    = "put"
	OpDelete = "delete"
	OpLookup = "lookup"
	OpWrite  = "write"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// OnRequest is called after each foreground operation ("put", "delete",
	// "lookup") returns.
	OnRequest(op string, duration time.Duration, err error)

	// OnCommit is called after a shard committed a segment. expired reports
	// whether the commit was forced by the segment timeout.
	OnCommit(shard, keys, bytes int, duration time.Duration, expired bool, err error)

	// OnCompaction is called when a compaction or migration pass completes.
	OnCompaction(segments, moved int, duration time.Duration, err error)

	// OnQueueDepth reports the number of requests waiting for a shard.
	OnQueueDepth(shard, depth int)
}

// NoopObserver is a no-op implementation of Observer.
type NoopObserver struct{}

func (NoopObserver) OnRequest(string, time.Duration, error)             {}
func (NoopObserver) OnCommit(int, int, int, time.Duration, bool, error) {}
func (NoopObserver) OnCompaction(int, int, time.Duration, error)        {}
func (NoopObserver) OnQueueDepth(int, int)                              {}

// BasicObserver provides simple in-memory counters.
// Useful for tests and debugging without external dependencies.
type BasicObserver struct {
	PutCount        atomic.Int64
	DeleteCount     atomic.Int64
	LookupCount     atomic.Int64
	RequestErrors   atomic.Int64
	RequestNanos    atomic.Int64
	CommitCount     atomic.Int64
	CommitErrors    atomic.Int64
	ExpiredCommits  atomic.Int64
	CommittedKeys   atomic.Int64
	CommittedBytes  atomic.Int64
	CommitNanos     atomic.Int64
	CompactionCount atomic.Int64
	CompactedSegs   atomic.Int64
	MovedRecords    atomic.Int64
	MaxQueueDepth   atomic.Int64
}

var _ Observer = (*BasicObserver)(nil)

// OnRequest implements Observer.
func (b *BasicObserver) OnRequest(op string, duration time.Duration, err error) {
	switch op {
	case OpPut:
		b.PutCount.Add(1)
	case OpDelete:
		b.DeleteCount.Add(1)
	case OpLookup:
		b.LookupCount.Add(1)
	}
	b.RequestNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RequestErrors.Add(1)
	}
}

// OnCommit implements Observer.
func (b *BasicObserver) OnCommit(_, keys, bytes int, duration time.Duration, expired bool, err error) {
	b.CommitCount.Add(1)
	b.CommitNanos.Add(duration.Nanoseconds())
	if expired {
		b.ExpiredCommits.Add(1)
	}
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommittedKeys.Add(int64(keys))
	b.CommittedBytes.Add(int64(bytes))
}

// OnCompaction implements Observer.
func (b *BasicObserver) OnCompaction(segments, moved int, _ time.Duration, err error) {
	if err != nil {
		return
	}
	b.CompactionCount.Add(1)
	b.CompactedSegs.Add(int64(segments))
	b.MovedRecords.Add(int64(moved))
}

// OnQueueDepth implements Observer.
func (b *BasicObserver) OnQueueDepth(_, depth int) {
	for {
		cur := b.MaxQueueDepth.Load()
		if int64(depth) <= cur || b.MaxQueueDepth.CompareAndSwap(cur, int64(depth)) {
			return
		}
	}
}

// Stats returns a snapshot of current metrics.
func (b *BasicObserver) Stats() Stats {
	s := Stats{
		PutCount:        b.PutCount.Load(),
		DeleteCount:     b.DeleteCount.Load(),
		LookupCount:     b.LookupCount.Load(),
		RequestErrors:   b.RequestErrors.Load(),
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		ExpiredCommits:  b.ExpiredCommits.Load(),
		CommittedKeys:   b.CommittedKeys.Load(),
		CommittedBytes:  b.CommittedBytes.Load(),
		CompactionCount: b.CompactionCount.Load(),
		CompactedSegs:   b.CompactedSegs.Load(),
		MovedRecords:    b.MovedRecords.Load(),
		MaxQueueDepth:   b.MaxQueueDepth.Load(),
	}
	if n := s.PutCount + s.DeleteCount + s.LookupCount; n > 0 {
		s.RequestAvgNanos = b.RequestNanos.Load() / n
	}
	if s.CommitCount > 0 {
		s.CommitAvgNanos = b.CommitNanos.Load() / s.CommitCount
	}
	return s
}

// Stats is a point-in-time snapshot of BasicObserver.
type Stats struct {
	PutCount        int64
	DeleteCount     int64
	LookupCount     int64
	RequestErrors   int64
	RequestAvgNanos int64
	CommitCount     int64
	CommitErrors    int64
	ExpiredCommits  int64
	CommittedKeys   int64
	CommittedBytes  int64
	CommitAvgNanos  int64
	CompactionCount int64
	CompactedSegs   int64
	MovedRecords    int64
	MaxQueueDepth   int64
}
