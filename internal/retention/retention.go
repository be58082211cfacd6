// Package retention periodically removes data the messaging core no longer
// needs: read notifications past their retention period and idempotency
// tokens past the replay window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tripchat/internal/observability"

	"github.com/adhocore/gronx"
)

// DefaultCron runs the sweep at the top of every hour.
const DefaultCron = "0 * * * *"

// NotificationPurger deletes read notifications created before cutoff.
type NotificationPurger interface {
	PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenClearer forgets message idempotency tokens created before cutoff.
type TokenClearer interface {
	ClearTokensBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls what a sweep removes and when it runs.
type Config struct {
	Cron                  string
	NotificationRetention time.Duration
	IdempotencyWindow     time.Duration
}

// Result reports what one sweep removed.
type Result struct {
	NotificationsPurged int64
	TokensCleared       int64
}

// Sweeper runs retention on a cron schedule.
type Sweeper struct {
	cfg           Config
	notifications NotificationPurger
	tokens        TokenClearer
	log           *slog.Logger
	now           func() time.Time
}

// NewSweeper validates the cron expression and returns a stopped Sweeper.
// A zero retention period disables that half of the sweep.
func NewSweeper(cfg Config, notifications NotificationPurger, tokens TokenClearer) (*Sweeper, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	return &Sweeper{
		cfg:           cfg,
		notifications: notifications,
		tokens:        tokens,
		log:           observability.GlobalLogger.With("component", "retention"),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	if s.notifications != nil && s.cfg.NotificationRetention > 0 {
		n, err := s.notifications.PurgeReadBefore(ctx, now.Add(-s.cfg.NotificationRetention))
		if err != nil {
			return res, fmt.Errorf("purge notifications: %w", err)
		}
		res.NotificationsPurged = n
		observability.RetentionPurged.WithLabelValues("notifications").Add(float64(n))
	}

	if s.tokens != nil && s.cfg.IdempotencyWindow > 0 {
		n, err := s.tokens.ClearTokensBefore(ctx, now.Add(-s.cfg.IdempotencyWindow))
		if err != nil {
			return res, fmt.Errorf("clear idempotency tokens: %w", err)
		}
		res.TokensCleared = n
		observability.RetentionPurged.WithLabelValues("idempotency_tokens").Add(float64(n))
	}

	s.log.InfoContext(ctx, "retention_run_complete",
		slog.Int64("notifications_purged", res.NotificationsPurged),
		slog.Int64("tokens_cleared", res.TokensCleared))
	return res, nil
}

// Start runs the scheduler until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("retention_scheduler_started", slog.String("cron", s.cfg.Cron))
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cfg.Cron, s.now(), false)
		if err != nil {
			s.log.Error("retention_nexttick_failed", slog.String("cron", s.cfg.Cron), slog.Any("error", err))
			next = s.now().Add(30 * time.Second)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("retention_scheduler_stopping")
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.log.ErrorContext(ctx, "retention_run_error", slog.Any("error", err))
		}
	}
}
