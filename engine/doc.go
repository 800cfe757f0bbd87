// Package engine schedules writes onto segments.
//
// # Write path
//
// Keys are routed to one of N shards by digest. Every shard owns a single
// goroutine that appends incoming requests to its open request segment. The
// segment is sealed when the next record does not fit or when it has been
// open longer than the segment timeout. Sealed segments are committed on a
// shared WorkerPool; a shard has at most one commit in flight, so segments
// of one shard reach the device and the index in the order they were
// sealed. Producers block until their segment completed.
//
// # Garbage and compaction
//
// Every commit reports the index entries it superseded. The engine sums
// them per segment and Compact rewrites the live records of segments whose
// garbage ratio crossed the threshold, then frees the source segments.
// Migrate moves live records from another volume the same way.
//
// # Recovery
//
// Open loads the optional index snapshot and replays every committed
// segment whose transaction id is above the snapshot watermark, in
// transaction order. Segments no index entry points at are returned to
// the allocator.
package engine
