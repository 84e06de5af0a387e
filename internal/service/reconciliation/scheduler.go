package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/lock"
)

type runExecutor interface {
	CreateRun(ctx context.Context, req RunRequest) (*domain.ReconciliationRun, bool, error)
	Execute(ctx context.Context, runID uuid.UUID) (*domain.ReconciliationRun, error)
}

type runLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Lease, error)
}

// Scheduler reconciles the previous UTC day for every configured provider.
// Runs are keyed per provider and day, so repeated ticks and other replicas
// never execute the same window twice.
type Scheduler struct {
	engine    runExecutor
	locker    runLocker
	providers []string
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewScheduler(engine runExecutor, locker runLocker, providers []string, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:    engine,
		locker:    locker,
		providers: providers,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("reconciliation scheduler started", "interval", s.interval, "providers", s.providers)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	end := s.now().UTC().Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)

	var errs error
	for _, provider := range s.providers {
		errs = multierr.Append(errs, s.runProvider(ctx, provider, start, end))
	}
	return errs
}

func (s *Scheduler) runProvider(ctx context.Context, provider string, start, end time.Time) error {
	key := fmt.Sprintf("scheduled:%s:%s", provider, start.Format("2006-01-02"))

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, "recon:"+key, s.interval)
		if err != nil {
			return fmt.Errorf("%s: %w", provider, err)
		}
		if lease == nil {
			s.logger.Debug("scheduled reconciliation held by another replica", "provider", provider)
			return nil
		}
		defer lease.Release(context.WithoutCancel(ctx))
	}

	run, _, err := s.engine.CreateRun(ctx, RunRequest{
		Provider:       provider,
		WindowStart:    start,
		WindowEnd:      end,
		IdempotencyKey: &key,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	if run.Status == domain.RunStatusCompleted || run.Status == domain.RunStatusFailed {
		return nil
	}

	run, err = s.engine.Execute(ctx, run.ID)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			return nil
		}
		return fmt.Errorf("%s: %w", provider, err)
	}
	s.logger.Info("scheduled reconciliation finished",
		"provider", provider,
		"run_id", run.ID,
		"status", run.Status,
		"findings", run.FindingsCount,
	)
	return nil
}
