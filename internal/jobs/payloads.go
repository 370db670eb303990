package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// ModerationPayload is everything a moderation job needs without a lookup.
type ModerationPayload struct {
	UploadID int64  `json:"upload_id"`
	Path     string `json:"asset_path"`
	Mime     string `json:"mime"`
	Actor    string `json:"actor"`
	ClientIP string `json:"client_ip"`
	Filename string `json:"filename"`
	Animated *bool  `json:"is_animated,omitempty"`
}

// IsAnimated reports the animated hint, defaulting to false.
func (p ModerationPayload) IsAnimated() bool {
	return p.Animated != nil && *p.Animated
}

// Validate checks the required fields.
func (p ModerationPayload) Validate() error {
	switch {
	case p.UploadID <= 0:
		return fmt.Errorf("moderation payload: invalid upload id %d", p.UploadID)
	case p.Path == "":
		return fmt.Errorf("moderation payload: empty asset path")
	case p.Mime == "":
		return fmt.Errorf("moderation payload: empty mime")
	}
	return nil
}

// EmailPayload references the account an email is addressed to.
type EmailPayload struct {
	UserID int64 `json:"user_id"`
}

func decode[T any](task *asynq.Task) (T, error) {
	var out T
	if err := json.Unmarshal(task.Payload(), &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", task.Type(), err)
	}
	return out, nil
}
