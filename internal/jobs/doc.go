// Package jobs is the asynq integration: job names, lanes, payloads,
// submission, per-lane worker servers, retry policy and the periodic
// maintenance scheduler.
//
// A job name is "<lane>:<action>". The lane prefix is the asynq queue, and
// every lane runs its own asynq.Server so a moderation backlog cannot starve
// email delivery or maintenance. Handlers return errors classified with the
// internal/services markers; anything services.Retryable rejects is wrapped
// with asynq.SkipRetry and becomes a final failure on the first attempt.
// Integrity conflicts get a single retry before they are final.
package jobs
