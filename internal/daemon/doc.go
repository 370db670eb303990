// Package daemon coordinates the long-running mediaguard process.
//
// It combines the job lanes, the maintenance scheduler and the operator HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances. Pipeline adapts the moderation, email, tiering and janitor
// services to job handler bodies; the API serves upload status descriptors,
// rehydrating file reads, health and Prometheus metrics.
//
// Keep orchestration logic here: moderation decisions, storage movement and
// sweeps live in their own packages while the daemon focuses on startup,
// shutdown and wiring.
package daemon
