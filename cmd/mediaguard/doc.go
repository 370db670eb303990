// Command mediaguard is the operator CLI: it runs the daemon in the
// foreground, reports status and lane backlogs, runs maintenance sweeps on
// demand and submits local files through the intake path.
package main
