// Package resource bounds the resources background work may take from the
// foreground write path.
//
//   - Memory: segment images held by open and committing segments
//     (blocking or fail-fast acquire)
//   - Concurrency: background jobs such as compaction and migration
//   - IO: token-bucket rate limit for background volume reads and writes
//
// A nil *Controller imposes no limits.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     64 << 20,
//	    MaxBackgroundWorkers: 1,
//	    IOLimitBytesPerSec:   32 << 20,
//	})
//	vol = resource.ThrottleVolume(vol, rc)
package resource
