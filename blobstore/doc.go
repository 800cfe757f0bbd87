// Package blobstore provides object storage for whole segment images.
//
// Segments archived to, or migrated from, object storage are stored one
// object per segment. Objects are immutable once written: a segment commit
// replaces the object as a whole, so Put must be atomic from a reader's view.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and ephemeral volumes
//   - LocalStore: one file per object under a root directory
//   - minio.Store: MinIO and S3-compatible endpoints
//   - s3.Store: Amazon S3 via aws-sdk-go-v2
//
// Implementations must be safe for concurrent use.
package blobstore
