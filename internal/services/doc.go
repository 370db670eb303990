// Package services defines shared utilities consumed by the job handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp upload IDs, job names, lanes, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into record outcomes (rejected vs pending) and retry decisions.
//
// Use these helpers when wiring new job logic so operational behaviour (error
// handling, observability, retries) stays uniform across the lanes.
package services
