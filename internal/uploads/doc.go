// Package uploads persists media records in SQLite and exposes the
// queries the moderation, tiering, and janitor stages run against them.
//
// A record tracks one uploaded artefact: its primary file, optional size
// variants and thumbnail, the moderation status, and whether the bytes
// currently live on local disk, in durable storage, or both. Status
// transitions are conditional on the record still being pending so
// concurrent deliveries of the same moderation job cannot overwrite a
// terminal outcome.
//
// The remaining tables model the surrounding application far enough for
// reference checks and account removal: users, posts, comments, threads,
// messages, reactions, and the four attachment tables that link uploads
// to owners.
package uploads
