// Package config loads, normalizes, and validates mediaguard configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies MEDIAGUARD_* environment
// overrides for secrets and deployment values. The Config type centralizes
// every knob the worker daemon and CLI need, from lane concurrency to the
// cascade threshold table.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
