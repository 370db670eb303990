package jobs

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hibiken/asynq"

	"mediaguard/internal/services"
)

// RetryDelay returns an asynq RetryDelayFunc implementing exponential
// backoff with full jitter: a uniform delay in [0, min(cap, base*2^n)].
func RetryDelay(base, limit time.Duration) func(n int, err error, task *asynq.Task) time.Duration {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return jitteredBackoff(n, base, limit, rand.Int64N)
	}
}

func jitteredBackoff(n int, base, limit time.Duration, int64n func(int64) int64) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if limit < base {
		limit = base
	}
	ceiling := base
	for i := 0; i < n && ceiling < limit; i++ {
		ceiling *= 2
	}
	if ceiling > limit {
		ceiling = limit
	}
	return time.Duration(int64n(int64(ceiling) + 1))
}

// integrityRetries is how many times a record write conflict is retried
// before the task fails for good.
const integrityRetries = 1

// classify converts a handler error into what asynq should see. Errors that
// are not retryable are wrapped with asynq.SkipRetry, as are integrity
// conflicts once retried has reached integrityRetries.
func classify(err error, retried int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, asynq.SkipRetry) {
		return err
	}
	if errors.Is(err, services.ErrIntegrity) && retried >= integrityRetries {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if services.Retryable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}
