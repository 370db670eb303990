// Package cascade turns model scores into per-frame safety verdicts.
//
// A frame is screened with batched single-shot probes (horror, violence and
// its sub-categories, and the primary explicit probe). Only frames whose
// primary ratio lands in an ambiguity band are refined with more specific
// probes, one frame at a time, and only the narrowest band falls back to the
// dedicated classifier. Multi-frame assets are scored in fixed-size batches
// that stop once the asset has accumulated enough unsafe frames to be
// rejected.
//
// The Backend is the process-wide scoring service; the cascade never owns
// its lifecycle.
package cascade
