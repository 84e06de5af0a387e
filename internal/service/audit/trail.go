// Package audit writes and verifies the hash-chained audit trail and manages
// archiving of old chain segments.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
)

type eventStore interface {
	LockHead(ctx context.Context, tx *sql.Tx, chainID string) (*domain.ChainHead, error)
	AdvanceHead(ctx context.Context, tx *sql.Tx, chainID string, sequence int64, rowHash string) error
	GetHead(ctx context.Context, chainID string) (*domain.ChainHead, error)
	Insert(ctx context.Context, tx *sql.Tx, e *domain.AuditEvent) error
	ListRange(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error)
}

type purgeAnchors interface {
	LatestPurged(ctx context.Context, chainID string) (*domain.ArchiveManifest, error)
}

type Trail struct {
	events    eventStore
	manifests purgeAnchors
	db        *sql.DB
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewTrail(events eventStore, manifests purgeAnchors, db *sql.DB, m *metrics.Metrics) *Trail {
	return &Trail{
		events:    events,
		manifests: manifests,
		db:        db,
		metrics:   m,
		now:       time.Now,
	}
}

// LogEvent appends one event to its chain inside tx. Writers to the same
// chain serialize on the chain head row until tx ends, so sequences are
// gapless and each row links to its predecessor.
func (t *Trail) LogEvent(ctx context.Context, tx *sql.Tx, in domain.AuditInput) (*domain.AuditEvent, error) {
	if in.Action == "" || in.ResourceType == "" {
		return nil, fmt.Errorf("LogEvent: action and resource type required: %w", domain.ErrInvalidRequest)
	}

	e := &domain.AuditEvent{
		ID:           uuid.New(),
		ChainID:      in.ChainID,
		ActorUserID:  in.ActorUserID,
		ActorRole:    in.ActorRole,
		TenantID:     in.TenantID,
		Action:       in.Action,
		ResourceType: in.ResourceType,
		ResourceID:   in.ResourceID,
		Result:       in.Result,
		Status:       in.Status,
		Reason:       in.Reason,
		ErrorCode:    in.ErrorCode,
		ErrorMessage: in.ErrorMessage,
		Timestamp:    eventTime(t.now()),
	}
	if e.ChainID == "" {
		e.ChainID = in.TenantID.String()
	}
	if e.Status == "" {
		e.Status = domain.AuditStatusSuccess
	}

	var err error
	for _, f := range []struct {
		dst *[]byte
		src domain.JSONMap
	}{
		{&e.Details, in.Details},
		{&e.Before, in.Before},
		{&e.After, in.After},
		{&e.Diff, in.Diff},
		{&e.Metadata, in.Metadata},
	} {
		if *f.dst, err = encodeJSON(Mask(f.src)); err != nil {
			return nil, fmt.Errorf("LogEvent: encode: %w", err)
		}
	}

	head, err := t.events.LockHead(ctx, tx, e.ChainID)
	if err != nil {
		return nil, fmt.Errorf("LogEvent: %w", err)
	}
	e.Sequence = head.LastSequence + 1
	e.PrevRowHash = head.LastRowHash

	e.RowHash, err = ComputeRowHash(e)
	if err != nil {
		return nil, fmt.Errorf("LogEvent: %w", err)
	}

	if err := t.events.Insert(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("LogEvent: %w", err)
	}
	if err := t.events.AdvanceHead(ctx, tx, e.ChainID, e.Sequence, e.RowHash); err != nil {
		return nil, fmt.Errorf("LogEvent: %w", err)
	}

	t.metrics.AuditEvents.WithLabelValues(string(e.Status)).Inc()
	logging.FromContext(ctx).Debug("audit event appended",
		"chain_id", e.ChainID,
		"sequence", e.Sequence,
		"action", e.Action,
	)
	return e, nil
}

// Log appends an event in its own transaction.
func (t *Trail) Log(ctx context.Context, in domain.AuditInput) (*domain.AuditEvent, error) {
	var e *domain.AuditEvent
	err := repository.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		e, err = t.LogEvent(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Log: %w", err)
	}
	return e, nil
}

// Head returns the tail of a chain. A chain that was never written has
// sequence zero and the genesis hash.
func (t *Trail) Head(ctx context.Context, chainID string) (*domain.ChainHead, error) {
	h, err := t.events.GetHead(ctx, chainID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ChainHead{ChainID: chainID, LastRowHash: domain.GenesisRowHash}, nil
		}
		return nil, fmt.Errorf("Head: %w", err)
	}
	return h, nil
}
