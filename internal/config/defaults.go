package config

const (
	defaultConfigPath = "~/.config/mediaguard/config.toml"

	defaultUploadDir = "~/.local/share/mediaguard/uploads"
	defaultDataDir   = "~/.local/share/mediaguard"
	defaultLogDir    = "~/.local/share/mediaguard/logs"
	defaultAPIBind   = "127.0.0.1:7490"

	defaultBusyTimeoutMS = 5000
	defaultRedisAddr     = "127.0.0.1:6379"

	defaultModerationConcurrency  = 2
	defaultEmailConcurrency       = 4
	defaultMaintenanceConcurrency = 1
	defaultMaxRetry               = 5
	defaultTaskTimeoutSeconds     = 3600
	defaultRetryBaseSeconds       = 1
	defaultRetryMaxSeconds        = 600
	defaultShutdownTimeoutSeconds = 30

	defaultBackupCron         = "*/30 * * * *"
	defaultCleanupUploadsCron = "15 3 * * *"
	defaultPruneLocalCron     = "45 3 * * *"
	defaultCleanupDBCron      = "30 4 * * *"
	defaultCleanPartialsCron  = "0 * * * *"

	defaultBatchSize   = 10
	defaultFrameStride = 7
	defaultCPUWorkers  = 4
	defaultUnsafeLimit = 2

	defaultInferenceURL     = "http://127.0.0.1:8600"
	defaultInferenceTimeout = 60
	defaultInferenceRetries = 2

	defaultStorageBackend       = StorageLocal
	defaultStorageLocalDir      = "~/.local/share/mediaguard/durable"
	defaultStorageRegion        = "us-east-1"
	defaultMultipartThresholdMB = 8
	defaultPartSizeMB           = 16
	defaultStorageConcurrency   = 8

	defaultBackupLimit     = 1000
	defaultBackupPageSize  = 200
	defaultRetentionDays   = 3
	defaultLockTTLSeconds  = 120
	defaultOrphanBatchSize = 500
	defaultOrphanGraceMins = 60
	defaultDeleteWorkers   = 8
	defaultPruneBatchSize  = 500
	defaultAccountBatch    = 200
	defaultAccountGrace    = 15
	defaultPartialMaxAge   = 60

	defaultSMTPPort        = 587
	defaultTokenTTLMinutes = 60
	defaultEmailPerMinute  = 30

	defaultPublicBaseURL = "http://localhost:5173"

	defaultNotifyTimeout            = 10
	defaultNotifyDedupWindowSeconds = 600

	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 5
	defaultLogMaxAgeDays = 30
)

// Storage backends.
const (
	StorageS3    = "s3"
	StorageMinio = "minio"
	StorageLocal = "local"
)

// Moderation devices.
const (
	DeviceAuto = "auto"
	DeviceGPU  = "gpu"
	DeviceCPU  = "cpu"
)

// DefaultThresholds returns the empirically tuned cascade decision table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Horror:          2.81,
		Violence:        2.90,
		ViolenceGore:    2.80,
		ViolenceWeapons: 2.5,
		ViolenceInjury:  2.5,
		ExplicitCeiling: 10,
		ExplicitBandLow: 1.55,
		RefineCeiling:   4,
		RefineBandLow:   1.40,
		FinalCeiling:    2.7,
		FinalBandLow:    1.65,
		FinalBandHigh:   3,
		CombinedFloor:   2,
		Classifier:      0.70,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadDir: defaultUploadDir,
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Database: Database{
			BusyTimeoutMS: defaultBusyTimeoutMS,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Jobs: Jobs{
			ModerationConcurrency:  defaultModerationConcurrency,
			EmailConcurrency:       defaultEmailConcurrency,
			MaintenanceConcurrency: defaultMaintenanceConcurrency,
			MaxRetry:               defaultMaxRetry,
			TaskTimeoutSeconds:     defaultTaskTimeoutSeconds,
			RetryBaseSeconds:       defaultRetryBaseSeconds,
			RetryMaxSeconds:        defaultRetryMaxSeconds,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
			Schedule: Schedule{
				Backup:         defaultBackupCron,
				CleanupUploads: defaultCleanupUploadsCron,
				PruneLocal:     defaultPruneLocalCron,
				CleanupDB:      defaultCleanupDBCron,
				CleanPartials:  defaultCleanPartialsCron,
			},
		},
		Moderation: Moderation{
			Device:      DeviceAuto,
			BatchSize:   defaultBatchSize,
			FrameStride: defaultFrameStride,
			CPUWorkers:  defaultCPUWorkers,
			UnsafeLimit: defaultUnsafeLimit,
			Thresholds:  DefaultThresholds(),
		},
		Inference: Inference{
			BaseURL:        defaultInferenceURL,
			TimeoutSeconds: defaultInferenceTimeout,
			MaxRetries:     defaultInferenceRetries,
		},
		Storage: Storage{
			Backend:              defaultStorageBackend,
			LocalDir:             defaultStorageLocalDir,
			Region:               defaultStorageRegion,
			UseSSL:               true,
			MultipartThresholdMB: defaultMultipartThresholdMB,
			PartSizeMB:           defaultPartSizeMB,
			Concurrency:          defaultStorageConcurrency,
		},
		Tiering: Tiering{
			BackupLimit:    defaultBackupLimit,
			PageSize:       defaultBackupPageSize,
			RetentionDays:  defaultRetentionDays,
			LockTTLSeconds: defaultLockTTLSeconds,
		},
		Janitor: Janitor{
			OrphanBatchSize:      defaultOrphanBatchSize,
			OrphanGraceMinutes:   defaultOrphanGraceMins,
			DeleteWorkers:        defaultDeleteWorkers,
			PruneBatchSize:       defaultPruneBatchSize,
			AccountBatchSize:     defaultAccountBatch,
			AccountGraceDays:     defaultAccountGrace,
			PartialMaxAgeMinutes: defaultPartialMaxAge,
		},
		Email: Email{
			SMTPPort:        defaultSMTPPort,
			TokenTTLMinutes: defaultTokenTTLMinutes,
			PerMinute:       defaultEmailPerMinute,
		},
		API: API{
			PublicBaseURL: defaultPublicBaseURL,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyTimeout,
			ScoringErrors:      true,
			RetryExhausted:     true,
			Sweeps:             true,
			DedupWindowSeconds: defaultNotifyDedupWindowSeconds,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
