package uploads

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Status is the moderation state of a record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus normalizes a textual status. Unknown values return false.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	default:
		return "", false
	}
}

// Variant labels for static images.
const (
	VariantSmall  = "sm"
	VariantMedium = "md"
	VariantLarge  = "lg"
)

// VariantLabels lists the closed set of size labels in ascending size.
var VariantLabels = []string{VariantSmall, VariantMedium, VariantLarge}

// Record is one persisted media upload.
//
// Variants and DurableVariants map a size label to a bare filename inside
// the upload directory (or the durable prefix). Filename is the primary
// file: for static images it is the smallest variant.
type Record struct {
	ID               int64
	UserID           *int64
	Filename         string
	Path             string
	Mime             string
	Status           Status
	JobID            string
	SizeBytes        int64
	Width            int
	Height           int
	DurationSec      float64
	Animated         bool
	Variants         map[string]string
	Thumbnail        string
	DurablePath      string
	DurableVariants  map[string]string
	DurableThumbnail string
	IsLocal          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasVariants reports whether the record carries size variants.
func (r *Record) HasVariants() bool {
	return r != nil && len(r.Variants) > 0
}

// HasDurable reports whether a durable copy has been recorded.
func (r *Record) HasDurable() bool {
	if r == nil {
		return false
	}
	return r.DurablePath != "" || len(r.DurableVariants) > 0
}

// IsAnimated reports whether the record should be sampled frame by frame.
func (r *Record) IsAnimated() bool {
	if r == nil {
		return false
	}
	return r.Animated || r.IsVideo()
}

// IsVideo reports whether the primary file is a video container.
func (r *Record) IsVideo() bool {
	return r != nil && strings.HasPrefix(r.Mime, "video/")
}

// IsPDF reports whether the primary file is a PDF document.
func (r *Record) IsPDF() bool {
	return r != nil && r.Mime == "application/pdf"
}

// LocalFile names a file belonging to a record: Label identifies the
// slot (a variant label, "primary", or "thumbnail") and Name is the bare
// filename inside the upload directory.
type LocalFile struct {
	Label string
	Name  string
}

const (
	LabelPrimary   = "primary"
	LabelThumbnail = "thumbnail"
)

// Files returns every file the record owns in a stable order. Records with
// variants list each variant in label order; other records list the
// primary file. A thumbnail, when present, comes last.
func (r *Record) Files() []LocalFile {
	if r == nil {
		return nil
	}
	var files []LocalFile
	if r.HasVariants() {
		for _, label := range sortedLabels(r.Variants) {
			name := strings.TrimSpace(r.Variants[label])
			if name == "" {
				continue
			}
			files = append(files, LocalFile{Label: label, Name: name})
		}
	} else if name := r.primaryName(); name != "" {
		files = append(files, LocalFile{Label: LabelPrimary, Name: name})
	}
	if thumb := strings.TrimSpace(r.Thumbnail); thumb != "" {
		files = append(files, LocalFile{Label: LabelThumbnail, Name: thumb})
	}
	return files
}

// DurableKeys returns every recorded durable object name.
func (r *Record) DurableKeys() []string {
	if r == nil {
		return nil
	}
	var keys []string
	if len(r.DurableVariants) > 0 {
		for _, label := range sortedLabels(r.DurableVariants) {
			if name := strings.TrimSpace(r.DurableVariants[label]); name != "" {
				keys = append(keys, name)
			}
		}
	} else if name := strings.TrimSpace(r.DurablePath); name != "" {
		keys = append(keys, name)
	}
	if thumb := strings.TrimSpace(r.DurableThumbnail); thumb != "" {
		keys = append(keys, thumb)
	}
	return keys
}

// Owns reports whether name is one of the record's local filenames.
func (r *Record) Owns(name string) bool {
	for _, file := range r.Files() {
		if file.Name == name {
			return true
		}
	}
	return false
}

func (r *Record) primaryName() string {
	if name := strings.TrimSpace(r.Filename); name != "" {
		return name
	}
	if r.Path != "" {
		return filepath.Base(r.Path)
	}
	return ""
}

func sortedLabels(values map[string]string) []string {
	labels := make([]string, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	order := map[string]int{}
	for i, label := range VariantLabels {
		order[label] = i
	}
	sort.Slice(labels, func(i, j int) bool {
		oi, iok := order[labels[i]]
		oj, jok := order[labels[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return labels[i] < labels[j]
		}
	})
	return labels
}

// NewRecord describes a record to insert.
type NewRecord struct {
	UserID      *int64
	Filename    string
	Path        string
	Mime        string
	SizeBytes   int64
	Width       int
	Height      int
	DurationSec float64
	Animated    bool
	Variants    map[string]string
	Thumbnail   string
}

// StatusView is the owner-facing projection of a record.
type StatusView struct {
	ID          int64
	Status      Status
	Mime        string
	Width       int
	Height      int
	DurationSec float64
	Variants    map[string]string
	Filename    string
	Thumbnail   string
}

// View projects the record onto its owner-facing status fields.
func (r *Record) View() *StatusView {
	return &StatusView{
		ID:          r.ID,
		Status:      r.Status,
		Mime:        r.Mime,
		Width:       r.Width,
		Height:      r.Height,
		DurationSec: r.DurationSec,
		Variants:    r.Variants,
		Filename:    r.primaryName(),
		Thumbnail:   r.Thumbnail,
	}
}

// Counts summarizes records by status.
type Counts map[Status]int
