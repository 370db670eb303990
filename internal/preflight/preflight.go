package preflight

import (
	"context"

	"mediaguard/internal/config"
	"mediaguard/internal/deps"
	"mediaguard/internal/objectstore"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// store may be nil, in which case durable storage is not probed. Checks are
// only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config, store objectstore.Store) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
	}
	if cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Durable directory", cfg.Storage.LocalDir))
	}

	results = append(results, CheckRedis(ctx, cfg.Redis))
	results = append(results, CheckInference(ctx, cfg.Inference))
	if store != nil {
		results = append(results, CheckObjectStore(ctx, store, cfg.Storage.Prefix))
	}

	if cfg.Email.Enabled {
		results = append(results, CheckSMTP(ctx, cfg.Email))
	}

	for _, dep := range CheckSystemDeps(ctx, cfg) {
		results = append(results, FromDependency(dep))
	}
	return results
}

// FromDependency converts a binary status into a check result.
func FromDependency(dep deps.Status) Result {
	return Result{Name: dep.Name, Passed: dep.Available, Detail: dep.Detail}
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
