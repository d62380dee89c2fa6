package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neofi/chronicle/pkg/observability"
)

// ScheduleTokenPurge registers the expired refresh token purge on the
// given cron scheduler. The caller owns starting and stopping the
// scheduler.
func ScheduleTokenPurge(c *cron.Cron, store *Store, schedule string, logger *observability.Logger) error {
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		purged, err := store.PurgeExpiredTokens(ctx)
		if err != nil {
			logger.WithError(err).Error("refresh token purge failed")
			return
		}
		if purged > 0 {
			logger.WithField("purged", purged).Info("expired refresh tokens purged")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule token purge: %w", err)
	}
	return nil
}
