// Package volume defines the device contract segments are committed to.
//
// A volume is a fixed array of equally sized segments starting at a base
// offset. The segment layer hands a volume a list of extents per commit and
// relies on the volume to make them durable before Write returns.
//
// Implementations:
//
//   - MemoryVolume: in-process byte slice, with write accounting and failure
//     injection for tests
//   - FileVolume: a preallocated file or block device accessed through
//     internal/fs
//   - BlobVolume: one compressed object per segment in a blobstore.Store
//
// Allocator tracks which segment ids hold committed data.
package volume
