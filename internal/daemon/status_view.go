package daemon

import (
	"maps"

	"mediaguard/internal/moderation"
	"mediaguard/internal/uploads"
)

// uploadStatus is the JSON status descriptor. Approved records carry
// resolved URLs; rejected ones carry only the generic policy message.
type uploadStatus struct {
	UploadID    int64             `json:"upload_id"`
	Status      uploads.Status    `json:"status"`
	Mime        string            `json:"mime"`
	Width       *int              `json:"width"`
	Height      *int              `json:"height"`
	DurationSec *float64          `json:"duration_sec"`
	Variants    map[string]string `json:"variants,omitempty"`
	Location    string            `json:"location,omitempty"`
	Thumbnail   string            `json:"thumbnail,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// uploadPath is the relative path a filename is served under.
func uploadPath(name string) string {
	return "api/uploads/" + name
}

func resolveStatus(view *uploads.StatusView, baseURL string) uploadStatus {
	out := uploadStatus{
		UploadID:    view.ID,
		Status:      view.Status,
		Mime:        view.Mime,
		Width:       positiveOrNil(view.Width),
		Height:      positiveOrNil(view.Height),
		DurationSec: positiveOrNil(view.DurationSec),
	}
	abs := func(name string) string { return baseURL + "/" + uploadPath(name) }

	switch view.Status {
	case uploads.StatusApproved:
		if len(view.Variants) > 0 {
			out.Variants = maps.Clone(view.Variants)
			for label, name := range out.Variants {
				out.Variants[label] = abs(name)
			}
			return out
		}
		if view.Filename != "" {
			out.Location = abs(view.Filename)
		}
		if view.Thumbnail != "" {
			out.Thumbnail = abs(view.Thumbnail)
		}
	case uploads.StatusRejected:
		out.Message = moderation.RejectedMessage
	}
	return out
}

func positiveOrNil[T int | float64](v T) *T {
	if v <= 0 {
		return nil
	}
	return &v
}
