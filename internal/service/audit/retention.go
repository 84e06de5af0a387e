package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/lock"
)

const retentionLockName = "audit-retention"

type chainLister interface {
	ListChainIDs(ctx context.Context) ([]string, error)
}

type unpurgedLister interface {
	ListUnpurged(ctx context.Context, chainID string) ([]domain.ArchiveManifest, error)
}

type archiveRunner interface {
	Archive(ctx context.Context, chainID string, cutoff time.Time, actor domain.Actor) (*domain.ArchiveManifest, error)
	Purge(ctx context.Context, manifestID uuid.UUID, actor domain.Actor) (*domain.ArchiveManifest, error)
}

type jobLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Lease, error)
}

// RetentionJob periodically archives and purges audit rows older than the
// retention window on every chain.
type RetentionJob struct {
	chains    chainLister
	manifests unpurgedLister
	archiver  archiveRunner
	locker    jobLocker
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewRetentionJob(
	chains chainLister,
	manifests unpurgedLister,
	archiver archiveRunner,
	locker jobLocker,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *RetentionJob {
	return &RetentionJob{
		chains:    chains,
		manifests: manifests,
		archiver:  archiver,
		locker:    locker,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

func (j *RetentionJob) Start(ctx context.Context) {
	j.logger.Info("audit retention job started", "interval", j.interval, "retention", j.retention)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("audit retention job stopped")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("audit retention run failed", "error", err)
			}
		}
	}
}

// RunOnce archives every chain up to the cutoff and purges all archived,
// unpurged segments. Failures on one chain do not stop the others.
func (j *RetentionJob) RunOnce(ctx context.Context) error {
	if j.locker != nil {
		lease, err := j.locker.Acquire(ctx, retentionLockName, j.interval)
		if err != nil {
			return fmt.Errorf("RunOnce: %w", err)
		}
		if lease == nil {
			j.logger.Debug("audit retention held by another replica")
			return nil
		}
		defer lease.Release(context.WithoutCancel(ctx))
	}

	chainIDs, err := j.chains.ListChainIDs(ctx)
	if err != nil {
		return fmt.Errorf("RunOnce: %w", err)
	}

	cutoff := j.now().UTC().Add(-j.retention)
	var errs error
	for _, chainID := range chainIDs {
		errs = multierr.Append(errs, j.runChain(ctx, chainID, cutoff))
	}
	return errs
}

func (j *RetentionJob) runChain(ctx context.Context, chainID string, cutoff time.Time) error {
	for {
		m, err := j.archiver.Archive(ctx, chainID, cutoff, domain.SystemActor)
		if err != nil {
			return fmt.Errorf("chain %s: %w", chainID, err)
		}
		if m == nil {
			break
		}
	}

	pending, err := j.manifests.ListUnpurged(ctx, chainID)
	if err != nil {
		return fmt.Errorf("chain %s: %w", chainID, err)
	}

	var errs error
	for _, m := range pending {
		if _, err := j.archiver.Purge(ctx, m.ID, domain.SystemActor); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chain %s manifest %s: %w", chainID, m.ID, err))
			continue
		}
		j.logger.Info("audit segment retired",
			"chain_id", chainID,
			"manifest_id", m.ID,
			"from_sequence", m.FromSequence,
			"to_sequence", m.ToSequence,
		)
	}
	return errs
}
