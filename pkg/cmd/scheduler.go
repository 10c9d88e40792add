package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relancehq/relance/pkg/scheduler"
	"github.com/relancehq/relance/pkg/scheduler/memory"
	redisScheduler "github.com/relancehq/relance/pkg/scheduler/redis"
)

// NewScheduler creates a scheduler from a URL. A redis:// URL selects the
// durable Redis scheduler; anything else falls back to in-process timers
// for local development.
func NewScheduler(ctx context.Context, logger *slog.Logger, schedulerURL string) scheduler.Scheduler {
	switch parseProvider(schedulerURL) {
	case "redis", "rediss":
		redisSched, err := redisScheduler.NewScheduler(ctx, logger, schedulerURL)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis scheduler: %w", err))
		}

		return redisSched
	default:
		return memory.NewScheduler()
	}
}
