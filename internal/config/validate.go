package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateModeration(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLifecycle(); err != nil {
		return err
	}
	if err := c.validateEmail(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must be set (or MEDIAGUARD_REDIS_ADDR)")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be >= 0")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.moderation_concurrency":  c.Jobs.ModerationConcurrency,
		"jobs.email_concurrency":       c.Jobs.EmailConcurrency,
		"jobs.maintenance_concurrency": c.Jobs.MaintenanceConcurrency,
		"jobs.task_timeout_seconds":    c.Jobs.TaskTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Jobs.MaxRetry < 0 {
		return errors.New("jobs.max_retry must be >= 0")
	}
	if c.Jobs.RetryMaxSeconds < c.Jobs.RetryBaseSeconds {
		return errors.New("jobs.retry_max_seconds must be >= jobs.retry_base_seconds")
	}
	return nil
}

func (c *Config) validateModeration() error {
	switch c.Moderation.Device {
	case DeviceAuto, DeviceGPU, DeviceCPU:
	default:
		return fmt.Errorf("moderation.device: unsupported value %q (use auto, gpu, or cpu)", c.Moderation.Device)
	}
	if err := ensurePositiveMap(map[string]int{
		"moderation.batch_size":   c.Moderation.BatchSize,
		"moderation.frame_stride": c.Moderation.FrameStride,
	}); err != nil {
		return err
	}
	if c.Inference.BaseURL == "" {
		return errors.New("inference.base_url must be set")
	}
	if _, err := url.ParseRequestURI(c.Inference.BaseURL); err != nil {
		return fmt.Errorf("inference.base_url: %w", err)
	}
	return nil
}

func (c *Config) validateThresholds() error {
	t := c.Moderation.Thresholds
	for key, value := range map[string]float64{
		"horror":           t.Horror,
		"violence":         t.Violence,
		"violence_gore":    t.ViolenceGore,
		"violence_weapons": t.ViolenceWeapons,
		"violence_injury":  t.ViolenceInjury,
		"explicit_ceiling": t.ExplicitCeiling,
		"refine_ceiling":   t.RefineCeiling,
		"final_ceiling":    t.FinalCeiling,
	} {
		if value <= 0 {
			return fmt.Errorf("moderation.thresholds.%s must be positive", key)
		}
	}
	if t.ExplicitBandLow > t.ExplicitCeiling {
		return errors.New("moderation.thresholds.explicit_band_low must be <= explicit_ceiling")
	}
	if t.RefineBandLow > t.RefineCeiling {
		return errors.New("moderation.thresholds.refine_band_low must be <= refine_ceiling")
	}
	if t.FinalBandLow > t.FinalBandHigh {
		return errors.New("moderation.thresholds.final_band_low must be <= final_band_high")
	}
	if t.Classifier <= 0 || t.Classifier > 1 {
		return errors.New("moderation.thresholds.classifier must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	case StorageS3, StorageMinio:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is %s", c.Storage.Backend)
		}
		if c.Storage.Backend == StorageMinio && c.Storage.Endpoint == "" {
			return errors.New("storage.endpoint must be set when storage.backend is minio")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (use s3, minio, or local)", c.Storage.Backend)
	}
	if c.Storage.PartSizeMB < 5 {
		return errors.New("storage.part_size_mb must be at least 5")
	}
	return nil
}

func (c *Config) validateLifecycle() error {
	if err := ensurePositiveMap(map[string]int{
		"tiering.retention_days":     c.Tiering.RetentionDays,
		"janitor.orphan_batch_size":  c.Janitor.OrphanBatchSize,
		"janitor.prune_batch_size":   c.Janitor.PruneBatchSize,
		"janitor.account_batch_size": c.Janitor.AccountBatchSize,
		"janitor.account_grace_days": c.Janitor.AccountGraceDays,
	}); err != nil {
		return err
	}
	if c.Tiering.PageSize > c.Tiering.BackupLimit {
		return errors.New("tiering.page_size must be <= tiering.backup_limit")
	}
	return nil
}

func (c *Config) validateEmail() error {
	if !c.Email.Enabled {
		return nil
	}
	if c.Email.SMTPHost == "" {
		return errors.New("email.smtp_host must be set when email.enabled is true")
	}
	if c.Email.From == "" {
		return errors.New("email.from must be set when email.enabled is true")
	}
	for key, value := range map[string]string{
		"email.verification_secret": c.Email.VerificationSecret,
		"email.password_secret":     c.Email.PasswordSecret,
		"email.delete_secret":       c.Email.DeleteSecret,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set when email.enabled is true", key)
		}
	}
	if c.API.PublicBaseURL == "" {
		return errors.New("api.public_base_url must be set when email.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
