package moderation

import (
	"fmt"
	"strings"

	"mediaguard/internal/services"
)

// Kind is the media category that selects a moderation protocol.
type Kind string

const (
	StaticImage   Kind = "static_image"
	AnimatedImage Kind = "animated_image"
	Video         Kind = "video"
	PDF           Kind = "pdf"
)

// Classify maps a MIME type to a Kind. Types outside the four supported
// categories are a pre-validation failure.
func Classify(mime string, animated bool) (Kind, error) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if base, _, ok := strings.Cut(mime, ";"); ok {
		mime = strings.TrimSpace(base)
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		if animated {
			return AnimatedImage, nil
		}
		return StaticImage, nil
	case strings.HasPrefix(mime, "video/"):
		return Video, nil
	case mime == "application/pdf":
		return PDF, nil
	default:
		return "", services.Wrap(services.ErrPreValidation, "moderation", "classify", fmt.Sprintf("unsupported mime %q", mime), nil)
	}
}
