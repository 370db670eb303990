package tiering

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mediaguard/internal/fileutil"
	"mediaguard/internal/logging"
	"mediaguard/internal/metrics"
	"mediaguard/internal/services"
	"mediaguard/internal/uploads"
)

// Rehydrate returns the local path of name, restoring it from durable
// storage first when the local copy is gone. The read fails and no partial
// file is left when the download fails.
func (m *Manager) Rehydrate(ctx context.Context, name string) (string, error) {
	name = filepath.Base(name)
	path := m.localPath(name)
	if fileutil.Exists(path) {
		return path, nil
	}
	rec, err := m.store.FindByFilename(ctx, name)
	if err != nil {
		return "", err
	}
	if rec.Status != uploads.StatusApproved {
		return "", services.Wrap(services.ErrNotFound, "tiering", "rehydrate", fmt.Sprintf("%s is not approved", name), nil)
	}
	key, ok := durableKey(rec, name)
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "tiering", "rehydrate", fmt.Sprintf("%s has no durable copy", name), nil)
	}

	_, err, shared := m.group.Do(name, func() (any, error) {
		return nil, m.restore(ctx, rec, key, path)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug("rehydration shared", logging.String("file", name))
	}
	return path, nil
}

// restore brings back the requested file, then every other local file of the
// record that is missing, and marks the record local once all of them exist.
// A partial restore is flagged so the prune sweep still reclaims the files.
func (m *Manager) restore(ctx context.Context, rec *uploads.Record, key, path string) error {
	if err := m.fetch(ctx, rec, key, path); err != nil {
		return err
	}

	complete := true
	for _, file := range rec.Files() {
		sibling := m.localPath(file.Name)
		if fileutil.Exists(sibling) {
			continue
		}
		siblingKey, ok := durableKey(rec, file.Name)
		if !ok {
			complete = false
			continue
		}
		if err := m.fetch(ctx, rec, siblingKey, sibling); err != nil {
			complete = false
		}
	}
	if !complete {
		logging.WarnWithContext(m.logger, "record only partially restored", "rehydrate_partial",
			logging.Int64(logging.FieldUploadID, rec.ID),
			logging.String(logging.FieldImpact, "record stays marked not local"),
		)
		if err := m.store.MarkPartiallyLocal(ctx, rec.ID); err != nil {
			return services.Wrap(services.ErrIntegrity, "tiering", "mark partially local", fmt.Sprintf("record %d", rec.ID), err)
		}
		return nil
	}
	if err := m.store.MarkLocal(ctx, rec.ID); err != nil {
		return services.Wrap(services.ErrIntegrity, "tiering", "mark local", fmt.Sprintf("record %d", rec.ID), err)
	}
	return nil
}

// fetch downloads key to path under the path's cross-process lock. Callers in
// this process share one download per path.
func (m *Manager) fetch(ctx context.Context, rec *uploads.Record, key, path string) error {
	_, err, _ := m.group.Do("fetch:"+path, func() (any, error) {
		return nil, m.fetchLocked(ctx, rec, key, path)
	})
	return err
}

func (m *Manager) fetchLocked(ctx context.Context, rec *uploads.Record, key, path string) error {
	release, err := m.acquire(ctx, "mediaguard:rehydrate:"+filepath.Base(path), path)
	if err != nil {
		return err
	}
	if release == nil {
		// Another process restored the file while we waited.
		return nil
	}
	defer release()

	if fileutil.Exists(path) {
		return nil
	}
	started := time.Now()
	n, err := m.download(ctx, key, path)
	if err != nil {
		metrics.TieringOperations.WithLabelValues("rehydrate", metrics.ResultFailed).Inc()
		logging.WarnWithContext(m.logger, "rehydration failed", "rehydrate_failed",
			logging.Int64(logging.FieldUploadID, rec.ID),
			logging.String("key", key),
			logging.Error(err),
		)
		return err
	}
	metrics.TieringOperations.WithLabelValues("rehydrate", metrics.ResultOK).Inc()
	metrics.TieringBytes.WithLabelValues("download").Add(float64(n))
	m.logger.Info("file rehydrated",
		logging.Int64(logging.FieldUploadID, rec.ID),
		logging.String("key", key),
		logging.Int64("bytes", n),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// acquire takes the cross-process lock for path. It returns a nil release
// when another holder produced the file in the meantime.
func (m *Manager) acquire(ctx context.Context, lockKey, path string) (func(), error) {
	ticker := time.NewTicker(m.waitPoll)
	defer ticker.Stop()
	for {
		release, ok, err := m.locker.Acquire(ctx, lockKey, m.lockTTL)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "tiering", "lock", lockKey, err)
		}
		if ok {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if fileutil.Exists(path) {
			return nil, nil
		}
	}
}

func (m *Manager) download(ctx context.Context, key, path string) (int64, error) {
	partial := path + ".part"
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "tiering", "rehydrate", "create partial file", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(partial)
	}
	n, err := m.objects.Download(ctx, key, f)
	if err != nil {
		cleanup()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return 0, services.Wrap(services.ErrTransient, "tiering", "rehydrate", "sync partial file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partial)
		return 0, services.Wrap(services.ErrTransient, "tiering", "rehydrate", "close partial file", err)
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return 0, services.Wrap(services.ErrTransient, "tiering", "rehydrate", "rename partial file", err)
	}
	return n, nil
}

// IsNotFound reports whether err means the file cannot be served at all.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
