// Package jobs runs periodic maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"finsys/internal/models"
	"finsys/internal/observability"

	"github.com/raulk/clock"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
)

const staleReportLimit = 100

// StaleLister is the read the stale report needs.
type StaleLister interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PayoutRequest, error)
}

// StalePendingReporter surfaces requests that have waited for an approver
// longer than a threshold. It only reports; nothing is cancelled.
type StalePendingReporter struct {
	repo  StaleLister
	after time.Duration
	clock clock.Clock
}

// NewStalePendingReporter returns a reporter. A nil clock uses the wall clock.
func NewStalePendingReporter(repo StaleLister, after time.Duration, clk clock.Clock) *StalePendingReporter {
	if clk == nil {
		clk = clock.New()
	}
	return &StalePendingReporter{repo: repo, after: after, clock: clk}
}

// Run lists stale requests, updates the gauge and logs their ids.
func (r *StalePendingReporter) Run(ctx context.Context) ([]models.PayoutRequest, error) {
	cutoff := r.clock.Now().Add(-r.after)
	stale, err := r.repo.ListStalePending(ctx, cutoff, staleReportLimit)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "stale pending report failed", slog.String("error", err.Error()))
		return nil, err
	}

	observability.StalePendingRequests.Set(float64(len(stale)))
	if len(stale) == 0 {
		return stale, nil
	}

	ids := lo.Map(stale, func(req models.PayoutRequest, _ int) uint { return req.ID })
	oldest := r.clock.Now().Sub(stale[0].CreatedAt)
	observability.GlobalLogger.WarnContext(ctx, "payout requests waiting for an approver",
		slog.Int("count", len(stale)),
		slog.Any("request_ids", ids),
		slog.Duration("oldest_age", oldest.Round(time.Second)),
	)
	return stale, nil
}

// NewScheduler registers the reporter on a cron schedule such as "@every 15m".
// The caller starts and stops the returned cron.
func NewScheduler(schedule string, reporter *StalePendingReporter) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = reporter.Run(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid stale report schedule %q: %w", schedule, err)
	}
	return c, nil
}
