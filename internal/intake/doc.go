// Package intake turns an uploaded byte stream into a pending record and a
// queued moderation job.
//
// Files are sniffed by content rather than extension, stored flat in the
// upload directory under collision-free names and, for static images,
// re-encoded into sm/md/lg JPEG variants with metadata dropped. Videos get
// a thumbnail grabbed one second in.
package intake
