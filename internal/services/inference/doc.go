// Package inference is the HTTP client for the scoring sidecar that hosts
// the embedding-similarity model and the binary classifier.
//
// A single Client is created per worker process and shared by every
// moderation job. Requests are JSON with base64 JPEG images; transient
// failures (timeouts, 408, 429 and 5xx) are retried with capped exponential
// backoff that honours Retry-After.
package inference
