// Package tiering moves upload bytes between the local upload directory and
// durable object storage.
//
// Backup copies approved records that lack a durable copy and records the
// resulting keys with a conditional write, so a second run over unchanged
// state uploads nothing. Rehydrate restores a pruned file on demand through a
// ".part" file that is synced and renamed into place before the record is
// marked local again. Concurrent rehydrations of one file collapse through
// singleflight within a process and a Redis lock across processes.
package tiering
