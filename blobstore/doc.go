// Package blobstore abstracts the storage that checkpoints are written to.
//
// A BlobStore holds named, immutable blobs. Checkpoint blobs are written
// once (Put or Create) and never modified; only small pointer blobs such as
// CURRENT are overwritten, always with Put.
//
// # Built-in Implementations
//
//   - MemoryStore: in process, for tests and ephemeral pipelines
//   - LocalStore: local filesystem, reads through mmap
//   - s3.Store: Amazon S3 with streaming multipart uploads
//   - s3.CommitStore: any store plus a DynamoDB commit log for CURRENT
//   - minio.Store: MinIO and other S3-compatible object stores
//
// Implementations must be safe for concurrent use.
package blobstore
