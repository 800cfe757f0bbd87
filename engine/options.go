package engine

import (
	"log/slog"
	"time"

	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/internal/fs"
	"github.com/yonger1516/HLKVDS/metrics"
	"github.com/yonger1516/HLKVDS/resource"
)

// Options configures an Engine.
type Options struct {
	// Logger receives commit failures, timeout commits, compaction and
	// recovery summaries. Nil disables logging.
	Logger *slog.Logger

	// Shards is the number of shard writers. Keys are routed by digest.
	Shards int

	// SegmentTimeout bounds how long a partially filled segment stays open.
	// Zero or less disables timeout commits.
	SegmentTimeout time.Duration

	// QueueDepth is the per-shard request channel capacity.
	QueueDepth int

	// Digest computes key digests.
	Digest digest.Engine

	// Metrics observes requests, commits and compactions.
	Metrics metrics.Observer

	// Resources bounds compaction and migration. Nil means unlimited.
	Resources *resource.Controller

	// LatencyFriendly writes every Put and Delete synchronously into its own
	// single-cursor segment instead of batching on a shard.
	LatencyFriendly bool

	// SnapshotPath, when set, is where the index snapshot is loaded from on
	// Open and saved to after compaction and on Close. The index must then
	// implement Snapshotter.
	SnapshotPath string

	// FileSystem is used for the snapshot file.
	FileSystem fs.FileSystem

	// GarbageThreshold is the garbage ratio at which Compact picks a segment.
	GarbageThreshold float64

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		Shards:           4,
		SegmentTimeout:   5 * time.Millisecond,
		QueueDepth:       256,
		Digest:           digest.Default,
		Metrics:          metrics.NoopObserver{},
		FileSystem:       fs.Default,
		GarbageThreshold: 0.5,
		Clock:            time.Now,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.Shards <= 0 {
		o.Shards = def.Shards
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = def.QueueDepth
	}
	if o.Digest == nil {
		o.Digest = def.Digest
	}
	if o.Metrics == nil {
		o.Metrics = def.Metrics
	}
	if o.FileSystem == nil {
		o.FileSystem = def.FileSystem
	}
	if o.GarbageThreshold <= 0 || o.GarbageThreshold > 1 {
		o.GarbageThreshold = def.GarbageThreshold
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
}

// tick is the expiry check interval of the shard loops.
func (o *Options) tick() time.Duration {
	t := o.SegmentTimeout / 2
	if t < 100*time.Microsecond {
		t = 100 * time.Microsecond
	}
	return t
}
