// Package checkpoint persists the snapshots of a set of tables to a
// blobstore.BlobStore and restores them.
//
// A checkpoint is a revision directory holding one compressed snapshot blob
// per table plus a manifest. The CURRENT blob names the latest revision:
//
//	<prefix>/CURRENT
//	<prefix>/<revision>/manifest.json
//	<prefix>/<revision>/<table>.snap
//
// Manager.Persist writes all table blobs first, then the manifest, then
// CURRENT. A crash before CURRENT is written leaves the previous checkpoint
// intact. Every table blob carries its size and CRC32 in the manifest and is
// verified before any table is touched on restore. Tables that implement
// RestorePreparer are then decoded into staged storage and committed only
// once every table decoded.
//
// Pairing a Manager with blobstore/s3.CommitStore serializes CURRENT updates
// across processes through DynamoDB.
package checkpoint
