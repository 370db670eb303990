package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvPrefix is prepended to every environment override key.
const EnvPrefix = "MEDIAGUARD_"

// Paths contains directory and bind address configuration.
type Paths struct {
	UploadDir string `toml:"upload_dir" env:"UPLOAD_DIR"`
	DataDir   string `toml:"data_dir" env:"DATA_DIR"`
	LogDir    string `toml:"log_dir" env:"LOG_DIR"`
	APIBind   string `toml:"api_bind" env:"API_BIND"`
}

// Database contains the media record store settings.
type Database struct {
	Path          string `toml:"path" env:"DATABASE_PATH"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// Redis contains the broker connection used by the job lanes and locks.
type Redis struct {
	Addr     string `toml:"addr" env:"REDIS_ADDR"`
	Password string `toml:"password" env:"REDIS_PASSWORD"`
	DB       int    `toml:"db" env:"REDIS_DB"`
}

// Schedule holds cron specs for periodic maintenance jobs.
type Schedule struct {
	Backup         string `toml:"backup"`
	CleanupUploads string `toml:"cleanup_uploads"`
	PruneLocal     string `toml:"prune_local"`
	CleanupDB      string `toml:"cleanup_db"`
	CleanPartials  string `toml:"clean_partials"`
}

// Jobs contains lane concurrency, retry, and timeout settings.
type Jobs struct {
	ModerationConcurrency  int      `toml:"moderation_concurrency"`
	EmailConcurrency       int      `toml:"email_concurrency"`
	MaintenanceConcurrency int      `toml:"maintenance_concurrency"`
	MaxRetry               int      `toml:"max_retry"`
	TaskTimeoutSeconds     int      `toml:"task_timeout_seconds"`
	RetryBaseSeconds       int      `toml:"retry_base_seconds"`
	RetryMaxSeconds        int      `toml:"retry_max_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	Schedule               Schedule `toml:"schedule"`
}

// Thresholds is the cascade decision table. Ratios are target/counter
// affinity; the classifier value is a probability.
type Thresholds struct {
	Horror          float64 `toml:"horror"`
	Violence        float64 `toml:"violence"`
	ViolenceGore    float64 `toml:"violence_gore"`
	ViolenceWeapons float64 `toml:"violence_weapons"`
	ViolenceInjury  float64 `toml:"violence_injury"`
	ExplicitCeiling float64 `toml:"explicit_ceiling"`
	ExplicitBandLow float64 `toml:"explicit_band_low"`
	RefineCeiling   float64 `toml:"refine_ceiling"`
	RefineBandLow   float64 `toml:"refine_band_low"`
	FinalCeiling    float64 `toml:"final_ceiling"`
	FinalBandLow    float64 `toml:"final_band_low"`
	FinalBandHigh   float64 `toml:"final_band_high"`
	CombinedFloor   float64 `toml:"combined_floor"`
	Classifier      float64 `toml:"classifier"`
}

// Moderation contains cascade execution settings.
type Moderation struct {
	// Device selects the batch strategy: "auto", "gpu" or "cpu".
	Device      string     `toml:"device" env:"MODERATION_DEVICE"`
	BatchSize   int        `toml:"batch_size"`
	FrameStride int        `toml:"frame_stride"`
	CPUWorkers  int        `toml:"cpu_workers"`
	UnsafeLimit int        `toml:"unsafe_limit"`
	PromptsPath string     `toml:"prompts_path"`
	Thresholds  Thresholds `toml:"thresholds"`
}

// Inference contains the scoring sidecar connection settings.
type Inference struct {
	BaseURL        string `toml:"base_url" env:"INFERENCE_URL"`
	APIKey         string `toml:"api_key" env:"INFERENCE_API_KEY"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// Storage contains the durable object storage settings.
type Storage struct {
	Backend              string `toml:"backend" env:"STORAGE_BACKEND"`
	Bucket               string `toml:"bucket" env:"STORAGE_BUCKET"`
	Prefix               string `toml:"prefix" env:"STORAGE_PREFIX"`
	Endpoint             string `toml:"endpoint" env:"STORAGE_ENDPOINT"`
	Region               string `toml:"region" env:"STORAGE_REGION"`
	AccessKey            string `toml:"access_key" env:"STORAGE_ACCESS_KEY"`
	SecretKey            string `toml:"secret_key" env:"STORAGE_SECRET_KEY"`
	UseSSL               bool   `toml:"use_ssl"`
	LocalDir             string `toml:"local_dir"`
	MultipartThresholdMB int    `toml:"multipart_threshold_mb"`
	PartSizeMB           int    `toml:"part_size_mb"`
	Concurrency          int    `toml:"concurrency"`
}

// Tiering contains backup and rehydration settings.
type Tiering struct {
	BackupLimit    int `toml:"backup_limit"`
	PageSize       int `toml:"page_size"`
	RetentionDays  int `toml:"retention_days"`
	LockTTLSeconds int `toml:"lock_ttl_seconds"`
}

// Janitor contains sweep batch sizes and grace windows.
type Janitor struct {
	OrphanBatchSize      int `toml:"orphan_batch_size"`
	OrphanGraceMinutes   int `toml:"orphan_grace_minutes"`
	DeleteWorkers        int `toml:"delete_workers"`
	PruneBatchSize       int `toml:"prune_batch_size"`
	AccountBatchSize     int `toml:"account_batch_size"`
	AccountGraceDays     int `toml:"account_grace_days"`
	PartialMaxAgeMinutes int `toml:"partial_max_age_minutes"`
}

// Email contains SMTP and token settings for the emails lane.
type Email struct {
	Enabled            bool   `toml:"enabled" env:"EMAIL_ENABLED"`
	SMTPHost           string `toml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort           int    `toml:"smtp_port" env:"SMTP_PORT"`
	Username           string `toml:"username" env:"SMTP_USERNAME"`
	Password           string `toml:"password" env:"SMTP_PASSWORD"`
	From               string `toml:"from" env:"SMTP_FROM"`
	VerificationSecret string `toml:"verification_secret" env:"SECRET_KEY"`
	PasswordSecret     string `toml:"password_secret" env:"SECRET_KEY2"`
	DeleteSecret       string `toml:"delete_secret" env:"SECRET_KEY3"`
	TokenTTLMinutes    int    `toml:"token_ttl_minutes"`
	PerMinute          int    `toml:"per_minute"`
}

// API contains the operator HTTP surface settings.
type API struct {
	PublicBaseURL string `toml:"public_base_url" env:"FRONTEND_URL"`
	// Token, when set, is required as a bearer token on /api routes.
	Token         string `toml:"token" env:"API_TOKEN"`
}

// Notifications contains configuration for ntfy operator alerts.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic" env:"NTFY_TOPIC"`
	RequestTimeout     int    `toml:"request_timeout"`
	ScoringErrors      bool   `toml:"scoring_errors"`
	RetryExhausted     bool   `toml:"retry_exhausted"`
	Sweeps             bool   `toml:"sweeps"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format" env:"LOG_FORMAT"`
	Level      string `toml:"level" env:"LOG_LEVEL"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config encapsulates all configuration values for mediaguard.
//
// Configuration sections by subsystem:
//   - Paths: upload root, state and log directories, API bind address
//   - Database: SQLite media record store
//   - Redis: job broker and distributed locks
//   - Jobs: lane concurrency, retries, periodic schedules
//   - Moderation: cascade batch strategy and decision thresholds
//   - Inference: scoring sidecar connection
//   - Storage: durable object storage backend
//   - Tiering: backup and local retention
//   - Janitor: sweep batch sizes and grace windows
//   - Email: SMTP delivery and signed tokens
//   - API: public URL used for resolved media links
//   - Notifications: ntfy operator alerts
//   - Logging: log format, level, and rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Redis         Redis         `toml:"redis"`
	Jobs          Jobs          `toml:"jobs"`
	Moderation    Moderation    `toml:"moderation"`
	Inference     Inference     `toml:"inference"`
	Storage       Storage       `toml:"storage"`
	Tiering       Tiering       `toml:"tiering"`
	Janitor       Janitor       `toml:"janitor"`
	Email         Email         `toml:"email"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// variables prefixed with EnvPrefix override file values. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, "", false, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaguard.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.UploadDir, c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Database.Path)}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaguard.lock")
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FFmpegBinary returns the ffmpeg executable name used for frame sampling and
// thumbnails.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// UseGPU reports whether the cascade should run batches sequentially on the
// GPU path. "auto" follows CUDA_VISIBLE_DEVICES.
func (c *Config) UseGPU() bool {
	switch c.Moderation.Device {
	case DeviceGPU:
		return true
	case DeviceCPU:
		return false
	default:
		value, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES")
		return ok && strings.TrimSpace(value) != ""
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
