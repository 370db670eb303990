// Package janitor runs the lifecycle sweeps of the maintenance lane.
//
// Each sweep works in fixed batches ordered by id and re-queries after every
// batch, so it can run alongside intake, tiering and the other sweeps without
// holding locks. A file that is already gone counts as removed.
//
//   - PurgeOrphans deletes rejected, owner-less and unattached records with
//     their local files and durable copies.
//   - PruneLocal drops local bytes of old approved records that have a
//     durable copy.
//   - PurgeAccounts deletes suspended accounts whose deletion request has aged
//     past the grace period.
//   - CleanPartials removes stale ".part" files from the upload directory.
package janitor
