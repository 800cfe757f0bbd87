// Package fs provides the filesystem abstraction beneath file-backed volumes
// and index snapshots, together with fault injection for tests.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with positional read/write and sync
//   - [FileSystem]: open, remove, rename, stat, mkdir, truncate
//
// # Implementations
//
//   - [LocalFS]: production implementation on top of the os package
//   - [FaultyFS]: wrapper that injects write, sync and close failures
//
// Segments are written with positional writes (WriteAt), so fault rules count
// bytes across both Write and WriteAt:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("volume.dat", fs.Fault{FailAfterBytes: 0})
//	// every segment commit to volume.dat now fails
//
// Filesystem calls take no context.Context: they are short, non-interruptible
// syscalls. Slow remote storage goes through the blobstore package instead.
package fs
