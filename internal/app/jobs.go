/**
 * @description
 * Scheduled job implementations for the subscription-service.
 */
package app

import (
	"context"
	"log/slog"
)

// SweepService defines the service operations needed by the scheduled jobs.
type SweepService interface {
	ExpireOverdueSubscriptions(ctx context.Context) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service SweepService
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service SweepService, logger *slog.Logger) *Jobs {
	return &Jobs{service: service, logger: logger}
}

// SweepPastDueSubscriptions is the job that marks lapsed active subscriptions
// as past_due.
func (j *Jobs) SweepPastDueSubscriptions() {
	j.logger.Info("starting past due sweep job")
	ctx := context.Background()

	swept, err := j.service.ExpireOverdueSubscriptions(ctx)
	if err != nil {
		j.logger.Error("failed to sweep overdue subscriptions", "error", err)
		return
	}

	if swept == 0 {
		j.logger.Info("no overdue subscriptions to sweep")
		return
	}

	j.logger.Info("past due sweep job finished", "swept", swept)
}
