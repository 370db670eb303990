// Package fileutil holds the small filesystem helpers shared by intake,
// rehydration, and the janitor: atomic writes through .part files, tolerant
// removal, and content hashing.
package fileutil
