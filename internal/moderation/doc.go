// Package moderation turns one pending upload into an approved or rejected
// record.
//
// Classify resolves the media Kind from the MIME type once at job start.
// Every kind runs the same protocol: Validate performs the cheap structural
// checks for its format (decodable raster, playable container, PDF without
// active content), then Decide samples and scores the asset through the
// cascade. Pre-validation failures and unsafe verdicts map to rejected;
// scoring failures leave the record pending, raise an operator alert and
// surface as retryable errors so the job queue can try again.
//
// The Orchestrator is the only writer of upload status. Writes are
// conditional on the record still being pending, so a replayed job cannot
// flip a terminal state.
package moderation
