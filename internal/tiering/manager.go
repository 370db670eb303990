package tiering

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/uploads"
)

// RecordStore is the slice of the record store tiering reads and writes.
type RecordStore interface {
	Get(ctx context.Context, id int64) (*uploads.Record, error)
	FindByFilename(ctx context.Context, name string) (*uploads.Record, error)
	ListBackupCandidates(ctx context.Context, afterID int64, limit int) ([]*uploads.Record, error)
	RecordDurable(ctx context.Context, id int64, durable uploads.DurableCopy) (bool, error)
	MarkLocal(ctx context.Context, id int64) error
	MarkPartiallyLocal(ctx context.Context, id int64) error
}

// Options configures a Manager.
type Options struct {
	Store     RecordStore
	Objects   objectstore.Store
	Locker    Locker
	UploadDir string
	Prefix    string
	// BackupLimit caps records examined per backup run.
	BackupLimit int
	PageSize    int
	LockTTL     time.Duration
	Logger      *slog.Logger
}

// Manager runs backups and rehydrations.
type Manager struct {
	store       RecordStore
	objects     objectstore.Store
	locker      Locker
	uploadDir   string
	prefix      string
	backupLimit int
	pageSize    int
	lockTTL     time.Duration
	waitPoll    time.Duration
	group       singleflight.Group
	logger      *slog.Logger
}

// New validates opts and builds a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("tiering: record store is required")
	}
	if opts.Objects == nil {
		return nil, errors.New("tiering: object store is required")
	}
	if strings.TrimSpace(opts.UploadDir) == "" {
		return nil, errors.New("tiering: upload directory is required")
	}
	if opts.Locker == nil {
		opts.Locker = NopLocker{}
	}
	if opts.BackupLimit <= 0 {
		opts.BackupLimit = 1000
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &Manager{
		store:       opts.Store,
		objects:     opts.Objects,
		locker:      opts.Locker,
		uploadDir:   opts.UploadDir,
		prefix:      opts.Prefix,
		backupLimit: opts.BackupLimit,
		pageSize:    opts.PageSize,
		lockTTL:     opts.LockTTL,
		waitPoll:    250 * time.Millisecond,
		logger:      logging.NewComponentLogger(opts.Logger, "tiering"),
	}, nil
}

// OptionsFromConfig fills the config-derived fields of Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UploadDir:   cfg.Paths.UploadDir,
		Prefix:      cfg.Storage.Prefix,
		BackupLimit: cfg.Tiering.BackupLimit,
		PageSize:    cfg.Tiering.PageSize,
		LockTTL:     time.Duration(cfg.Tiering.LockTTLSeconds) * time.Second,
	}
}

func (m *Manager) localPath(name string) string {
	return filepath.Join(m.uploadDir, filepath.Base(name))
}

// durableKey maps a local filename of rec to its recorded durable key.
func durableKey(rec *uploads.Record, name string) (string, bool) {
	for _, file := range rec.Files() {
		if file.Name != name {
			continue
		}
		var key string
		switch file.Label {
		case uploads.LabelPrimary:
			key = rec.DurablePath
		case uploads.LabelThumbnail:
			key = rec.DurableThumbnail
		default:
			key = rec.DurableVariants[file.Label]
		}
		key = strings.TrimSpace(key)
		return key, key != ""
	}
	return "", false
}
