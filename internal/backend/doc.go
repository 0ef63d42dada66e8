// Package backend defines the capability surface every upload destination
// implements (Azure Blob, S3, MinIO, local filesystem), keeping vendor wire
// semantics out of the upload manager.
package backend
