// Package objectstore is the durable storage boundary used by tiering and the
// janitor.
//
// Three backends implement Store: "s3" (AWS SDK v2 with the transfer
// manager, usable against Wasabi or any S3 endpoint), "minio" (minio-go) and
// "local" (a directory tree, for development and tests). Remote keys follow
// the "prefix/filename" convention built by Key.
package objectstore
