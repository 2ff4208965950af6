package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// startJobs schedules the hourly purge of expired password-reset tokens.
// Revocation entries need no equivalent job; they carry their own TTL.
func startJobs(db DB, log *slog.Logger) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)

	s.Every(1).Hour().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := db.PurgeExpiredResetTokens(ctx)
		if err != nil {
			log.Error("purging expired reset tokens", "error", err)
			return
		}
		if n > 0 {
			log.Info("purged expired reset tokens", "count", n)
		}
	})

	s.StartAsync()
	return s
}
