// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "volume-1/")
//
// # Features
//
//   - Multipart uploads for large segment images
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
