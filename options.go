package hlkvds

import (
	"log/slog"
	"time"

	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/engine"
	"github.com/yonger1516/HLKVDS/internal/fs"
	"github.com/yonger1516/HLKVDS/metrics"
	"github.com/yonger1516/HLKVDS/resource"
	"github.com/yonger1516/HLKVDS/segment"
)

const (
	// DefaultSegmentSize is the segment size of volumes created by Open.
	DefaultSegmentSize = 256 * segment.BlockSize

	// DefaultNumSegments is the segment count of volumes created by Open.
	DefaultNumSegments = 1024

	dataFileName     = "segments.dat"
	snapshotFileName = "index.snap"
)

type options struct {
	logger          *Logger
	shards          int
	segmentTimeout  time.Duration
	digest          digest.Engine
	observer        metrics.Observer
	snapshotPath    string
	resources       *resource.Controller
	latencyFriendly bool
	volumeID        uint16
	segmentSize     uint32
	numSegments     uint32
	garbage         float64
	fileSystem      fs.FileSystem
}

// Option configures Open and OpenVolume.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := hlkvds.NewJSONLogger(slog.LevelInfo)
//	db, _ := hlkvds.Open(ctx, dir, hlkvds.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithShards sets the number of shard writers.
//
// Every shard owns one open segment, so more shards mean more concurrent
// commits but smaller segments under light load.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// WithSegmentTimeout bounds how long a partially filled segment waits for
// more records before it is committed. Zero disables timeout commits;
// records then wait until the segment fills or the store closes.
func WithSegmentTimeout(d time.Duration) Option {
	return func(o *options) {
		o.segmentTimeout = d
	}
}

// WithDigest selects the key digest engine. The digest is part of the
// on-disk format: a store must always be opened with the same engine.
func WithDigest(d digest.Engine) Option {
	return func(o *options) {
		o.digest = d
	}
}

// WithMetrics configures an observer for requests, commits and compactions.
// Pass nil to disable metrics collection.
//
// Example:
//
//	obs := &metrics.BasicObserver{}
//	db, _ := hlkvds.Open(ctx, dir, hlkvds.WithMetrics(obs))
//	// ... use db ...
//	fmt.Println(obs.Stats().CommitCount)
func WithMetrics(obs metrics.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithIndexSnapshot sets the index snapshot file. Open defaults to a file
// next to the data file; OpenVolume runs without a snapshot unless one is
// configured.
func WithIndexSnapshot(path string) Option {
	return func(o *options) {
		o.snapshotPath = path
	}
}

// WithResources bounds compaction and migration by c.
func WithResources(c *resource.Controller) Option {
	return func(o *options) {
		o.resources = c
	}
}

// WithLatencyFriendly writes every Put and Delete synchronously into its
// own segment instead of batching it with concurrent writes.
func WithLatencyFriendly(enabled bool) Option {
	return func(o *options) {
		o.latencyFriendly = enabled
	}
}

// WithGeometry sets the volume layout used by Open. Like the digest it is
// part of the on-disk format; reopening with another geometry misreads
// the data file.
func WithGeometry(segmentSize, numSegments uint32) Option {
	return func(o *options) {
		o.segmentSize = segmentSize
		o.numSegments = numSegments
	}
}

// WithVolumeID sets the id of the volume created by Open.
func WithVolumeID(id uint16) Option {
	return func(o *options) {
		o.volumeID = id
	}
}

// WithGarbageThreshold sets the garbage ratio at which Compact picks a
// segment.
func WithGarbageThreshold(ratio float64) Option {
	return func(o *options) {
		o.garbage = ratio
	}
}

func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fileSystem = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:         NoopLogger(),
		observer:       metrics.NoopObserver{},
		segmentTimeout: engine.DefaultOptions().SegmentTimeout,
		volumeID:       1,
		segmentSize:    DefaultSegmentSize,
		numSegments:    DefaultNumSegments,
		fileSystem:     fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
