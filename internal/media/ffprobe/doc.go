// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - Result.ValidatePlayable: rejects containers with no duration or no
//     audio/video streams
//
// Helper methods on Result provide stream counts, duration parsing, frame
// rate, and display dimensions.
package ffprobe
