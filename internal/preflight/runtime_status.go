package preflight

import (
	"fmt"
	"strings"

	"mediaguard/internal/config"
)

// CheckEmailFromConfig summarizes email settings without connecting.
func CheckEmailFromConfig(cfg *config.Config) Result {
	const name = "Email"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Email.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled (messages are logged)"}
	}
	var missing []string
	for _, secret := range []struct{ label, value string }{
		{"verification_secret", cfg.Email.VerificationSecret},
		{"password_secret", cfg.Email.PasswordSecret},
		{"delete_secret", cfg.Email.DeleteSecret},
	} {
		if strings.TrimSpace(secret.value) == "" {
			missing = append(missing, secret.label)
		}
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: "Missing " + strings.Join(missing, ", ")}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s:%d as %s", cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.From)}
}

// CheckStorageFromConfig summarizes the durable backend without connecting.
func CheckStorageFromConfig(cfg *config.Config) Result {
	const name = "Storage"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	s := cfg.Storage
	switch s.Backend {
	case config.StorageLocal:
		return Result{Name: name, Passed: true, Detail: "local " + s.LocalDir}
	case config.StorageS3, config.StorageMinio:
		if strings.TrimSpace(s.Bucket) == "" {
			return Result{Name: name, Detail: "Missing bucket"}
		}
		target := s.Bucket
		if s.Prefix != "" {
			target += "/" + s.Prefix
		}
		if s.Endpoint != "" {
			target += " at " + s.Endpoint
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s", s.Backend, target)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("Unknown backend %q", s.Backend)}
	}
}
