// Package analytics records per-window generation counters in Redis so
// dashboards can trend schedule volume without touching Postgres.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paceline/internal/domain"
)

type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Write accumulates the cycle's generated and skipped counts into the
// current time bucket and refreshes the bucket TTL.
func (s *RedisSink) Write(ctx context.Context, stats domain.CycleStats, config domain.AnalyticsConfig) error {
	if !config.Enabled {
		return nil
	}

	bucket := truncateToBucket(stats.CycleStart, config.Window)
	generatedKey := fmt.Sprintf("paceline:generated:%s", bucket)
	skippedKey := fmt.Sprintf("paceline:skipped:%s", bucket)
	skipped := stats.TotalTargets - stats.TasksGenerated

	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, generatedKey, int64(stats.TasksGenerated))
	pipe.Expire(ctx, generatedKey, config.Retention)
	if skipped > 0 {
		pipe.IncrBy(ctx, skippedKey, int64(skipped))
		pipe.Expire(ctx, skippedKey, config.Retention)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
