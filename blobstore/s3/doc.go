// Package s3 provides Amazon S3 implementations of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("checkpoints/"),
//	    s3.WithRegion("us-east-1"),
//	)
//	mgr := checkpoint.NewManager(store)
//
// Several writers persisting to the same prefix coordinate through a
// DynamoDB commit log:
//
//	commits := s3.NewCommitStore(store, dynamodb.NewFromConfig(cfg), "eventtable-commits", "s3://my-bucket/checkpoints")
//	mgr := checkpoint.NewManager(commits)
//
// # Features
//
//   - Ranged reads
//   - Streaming multipart uploads for large snapshots
//   - CRC32C integrity checks on uploads
//   - Automatic pagination for listing
package s3
