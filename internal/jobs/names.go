package jobs

import (
	"fmt"
	"strconv"
	"strings"
)

// Lanes.
const (
	LaneModeration  = "moderation"
	LaneEmails      = "emails"
	LaneMaintenance = "maintenance"
)

// Lanes lists every lane in start order.
var Lanes = []string{LaneModeration, LaneEmails, LaneMaintenance}

// Job names.
const (
	TaskModerateFile = "moderation:file"

	TaskEmailVerification  = "emails:verification"
	TaskEmailPasswordReset = "emails:password_reset"
	TaskEmailDeleteAccount = "emails:delete_account"

	TaskBackup              = "maintenance:backup"
	TaskCleanupUploads      = "maintenance:cleanup_uploads"
	TaskDeleteBackedUpFiles = "maintenance:delete_backed_up_files"
	TaskCleanupDB           = "maintenance:cleanup_db"
	TaskCleanPartials       = "maintenance:clean_partials"
)

// MaintenanceTasks lists the periodic maintenance jobs.
var MaintenanceTasks = []string{
	TaskBackup,
	TaskCleanupUploads,
	TaskDeleteBackedUpFiles,
	TaskCleanupDB,
	TaskCleanPartials,
}

// LaneFor returns the lane a job name routes to. Names without a known lane
// prefix or without an action are rejected.
func LaneFor(name string) (string, error) {
	lane, action, ok := strings.Cut(strings.TrimSpace(name), ":")
	if !ok || action == "" {
		return "", fmt.Errorf("job %q: missing lane prefix", name)
	}
	switch lane {
	case LaneModeration, LaneEmails, LaneMaintenance:
		return lane, nil
	default:
		return "", fmt.Errorf("job %q: unknown lane %q", name, lane)
	}
}

// ModerationTaskID is the deduplicating task id for an upload.
func ModerationTaskID(uploadID int64) string {
	return LaneModeration + ":" + strconv.FormatInt(uploadID, 10)
}

// Action returns the part of a job name after the lane prefix.
func Action(name string) string {
	_, action, _ := strings.Cut(name, ":")
	return action
}
