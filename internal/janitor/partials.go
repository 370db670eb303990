package janitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediaguard/internal/fileutil"
	"mediaguard/internal/logging"
	"mediaguard/internal/services"
)

// CleanPartials removes ".part" files in the upload directory older than the
// configured age. They are left by interrupted rehydrations and intake.
func (j *Janitor) CleanPartials(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Sweep: SweepPartials}
	cutoff := j.now().Add(-time.Duration(j.settings.PartialMaxAgeMinutes) * time.Minute)

	entries, err := os.ReadDir(j.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, services.Wrap(services.ErrTransient, "janitor", SweepPartials, "read upload dir", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		report.Examined++
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		existed, err := fileutil.RemoveIfExists(filepath.Join(j.uploadDir, entry.Name()))
		if err != nil {
			report.Kept++
			j.logger.Warn("partial file delete failed",
				logging.String("file", entry.Name()),
				logging.Error(err),
			)
			continue
		}
		if existed {
			report.Files++
		}
	}
	j.finish(ctx, report, started)
	return report, nil
}
