package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeJobs()
	if err := c.normalizeModeration(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeTiering()
	c.normalizeJanitor()
	c.normalizeEmail()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(c.Paths.DataDir, "mediaguard.db")
	}
	if c.Database.Path, err = expandPath(c.Database.Path); err != nil {
		return fmt.Errorf("database.path: %w", err)
	}
	if c.Database.BusyTimeoutMS <= 0 {
		c.Database.BusyTimeoutMS = defaultBusyTimeoutMS
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.API.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.API.PublicBaseURL), "/")
	c.API.Token = strings.TrimSpace(c.API.Token)
	return nil
}

func (c *Config) normalizeJobs() {
	if c.Jobs.RetryBaseSeconds <= 0 {
		c.Jobs.RetryBaseSeconds = defaultRetryBaseSeconds
	}
	if c.Jobs.RetryMaxSeconds <= 0 {
		c.Jobs.RetryMaxSeconds = defaultRetryMaxSeconds
	}
	if c.Jobs.ShutdownTimeoutSeconds <= 0 {
		c.Jobs.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}
	s := &c.Jobs.Schedule
	s.Backup = strings.TrimSpace(s.Backup)
	s.CleanupUploads = strings.TrimSpace(s.CleanupUploads)
	s.PruneLocal = strings.TrimSpace(s.PruneLocal)
	s.CleanupDB = strings.TrimSpace(s.CleanupDB)
	s.CleanPartials = strings.TrimSpace(s.CleanPartials)
}

func (c *Config) normalizeModeration() error {
	c.Moderation.Device = strings.ToLower(strings.TrimSpace(c.Moderation.Device))
	if c.Moderation.Device == "" {
		c.Moderation.Device = DeviceAuto
	}
	if c.Moderation.CPUWorkers <= 0 {
		c.Moderation.CPUWorkers = defaultCPUWorkers
	}
	if n := runtime.NumCPU(); c.Moderation.CPUWorkers > n {
		c.Moderation.CPUWorkers = n
	}
	if c.Moderation.UnsafeLimit <= 0 {
		c.Moderation.UnsafeLimit = defaultUnsafeLimit
	}
	if strings.TrimSpace(c.Moderation.PromptsPath) != "" {
		var err error
		if c.Moderation.PromptsPath, err = expandPath(c.Moderation.PromptsPath); err != nil {
			return fmt.Errorf("moderation.prompts_path: %w", err)
		}
	}
	c.Inference.BaseURL = strings.TrimRight(strings.TrimSpace(c.Inference.BaseURL), "/")
	c.Inference.APIKey = strings.TrimSpace(c.Inference.APIKey)
	if c.Inference.TimeoutSeconds <= 0 {
		c.Inference.TimeoutSeconds = defaultInferenceTimeout
	}
	if c.Inference.MaxRetries < 0 {
		c.Inference.MaxRetries = 0
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.AccessKey = strings.TrimSpace(c.Storage.AccessKey)
	c.Storage.SecretKey = strings.TrimSpace(c.Storage.SecretKey)
	if strings.TrimSpace(c.Storage.Region) == "" {
		c.Storage.Region = defaultStorageRegion
	}
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = defaultStorageLocalDir
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	if c.Storage.MultipartThresholdMB <= 0 {
		c.Storage.MultipartThresholdMB = defaultMultipartThresholdMB
	}
	if c.Storage.PartSizeMB <= 0 {
		c.Storage.PartSizeMB = defaultPartSizeMB
	}
	if c.Storage.Concurrency <= 0 {
		c.Storage.Concurrency = defaultStorageConcurrency
	}
	return nil
}

func (c *Config) normalizeTiering() {
	if c.Tiering.BackupLimit <= 0 {
		c.Tiering.BackupLimit = defaultBackupLimit
	}
	if c.Tiering.PageSize <= 0 {
		c.Tiering.PageSize = defaultBackupPageSize
	}
	if c.Tiering.LockTTLSeconds <= 0 {
		c.Tiering.LockTTLSeconds = defaultLockTTLSeconds
	}
}

func (c *Config) normalizeJanitor() {
	if c.Janitor.DeleteWorkers <= 0 {
		c.Janitor.DeleteWorkers = defaultDeleteWorkers
	}
	if c.Janitor.OrphanGraceMinutes < 0 {
		c.Janitor.OrphanGraceMinutes = 0
	}
	if c.Janitor.PartialMaxAgeMinutes <= 0 {
		c.Janitor.PartialMaxAgeMinutes = defaultPartialMaxAge
	}
}

func (c *Config) normalizeEmail() {
	c.Email.SMTPHost = strings.TrimSpace(c.Email.SMTPHost)
	c.Email.From = strings.TrimSpace(c.Email.From)
	c.Email.Username = strings.TrimSpace(c.Email.Username)
	if c.Email.SMTPPort <= 0 {
		c.Email.SMTPPort = defaultSMTPPort
	}
	if c.Email.TokenTTLMinutes <= 0 {
		c.Email.TokenTTLMinutes = defaultTokenTTLMinutes
	}
	if c.Email.PerMinute <= 0 {
		c.Email.PerMinute = defaultEmailPerMinute
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}
}
