package jobs

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"mediaguard/internal/config"
)

// LaneStats is a snapshot of one lane's backlog.
type LaneStats struct {
	Lane      string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
	Processed int
	Failed    int
	Paused    bool
}

// Inspect reports backlog counts for every lane. Lanes the broker has not
// seen yet report zeros.
func Inspect(cfg *config.Config) ([]LaneStats, error) {
	inspector := asynq.NewInspector(RedisOpt(cfg))
	defer inspector.Close()

	stats := make([]LaneStats, 0, len(Lanes))
	for _, lane := range Lanes {
		info, err := inspector.GetQueueInfo(lane)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			stats = append(stats, LaneStats{Lane: lane})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspect lane %s: %w", lane, err)
		}
		stats = append(stats, LaneStats{
			Lane:      lane,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	return stats, nil
}
