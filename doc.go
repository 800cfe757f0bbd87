// Package hlkvds provides an embedded, log-structured key-value store for Go.
//
// Writes are packed into fixed-size segments and committed to the volume
// with one positional write per segment. Concurrent writers share segments:
// a Put blocks until the segment holding its record is durable, which
// happens when the segment is full or its timeout expires. The in-memory
// index maps the digest of every key to the location of its newest record.
//
//   - Sharded writers, one open segment per shard
//   - Dual-cursor segment layout: block-sized values stay block aligned
//   - Optional latency-friendly mode writing each Put synchronously
//   - Atomic batches committed in a single segment
//   - Compaction of segments dominated by superseded records
//   - Migration of live records between volumes
//   - Crash recovery from the segments plus an index snapshot
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := hlkvds.Open(ctx, "./data",
//	    hlkvds.WithShards(4),
//	    hlkvds.WithSegmentTimeout(2*time.Millisecond),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	if err := db.Put(ctx, []byte("user:1"), []byte("alice")); err != nil {
//	    panic(err)
//	}
//	v, err := db.Get(ctx, []byte("user:1"))
//
// Batches commit atomically:
//
//	var b hlkvds.Batch
//	b.Put([]byte("a"), []byte("1"))
//	b.Delete([]byte("b"))
//	err = db.Write(ctx, &b)
//
// # Volumes
//
// Open keeps the segments in one preallocated file. OpenVolume accepts any
// volume.Volume, such as volume.NewMemoryVolume for tests or
// volume.NewBlobVolume on an object store.
//
// # Observability
//
// WithLogger takes a *Logger wrapping log/slog. WithMetrics takes a
// metrics.Observer; metrics.NewPrometheusObserver exports the engine
// events to Prometheus.
package hlkvds
