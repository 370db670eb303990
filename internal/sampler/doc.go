// Package sampler extracts a strided subsequence of still frames from
// animated images and video.
//
// Sample returns a lazy iter.Seq2 that re-opens the source on every range.
// GIFs are composited onto a full canvas in-process; every other container
// is streamed from an ffmpeg subprocess as PPM images so only the frame
// being yielded is held in memory. Frames decoded before a failure are
// yielded first and the failure arrives as a trailing *DecodeError.
package sampler
