// Package preflight provides readiness checks for the external services and
// filesystem paths mediaguard depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failed check with an
//     error hint, then starts anyway so lanes can recover once a dependency
//     returns.
//   - The CLI "mediaguard status" command uses the individual checks to
//     display service health, and the *FromConfig helpers to summarize
//     settings without connecting.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
