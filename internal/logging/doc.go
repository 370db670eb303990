// Package logging assembles structured slog loggers and formatting helpers used
// across mediaguard services.
//
// It owns the configurable console/JSON handlers, centralizes level, output,
// and rotation plumbing, and exposes context-aware helpers so job code can
// automatically tag log lines with upload IDs, lanes, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
