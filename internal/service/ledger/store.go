// Package ledger owns the append-only money event log and is the single
// idempotency gate for every balance change.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type entryRepository interface {
	Insert(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	FindByIdempotencyKey(ctx context.Context, tx *sql.Tx, playerID uuid.UUID, key string) (*domain.LedgerEntry, error)
	FindByProviderEvent(ctx context.Context, tx *sql.Tx, provider, providerEventID string) (*domain.LedgerEntry, error)
	GetByTxID(ctx context.Context, txID uuid.UUID) ([]domain.LedgerEntry, error)
	GetByProviderEventID(ctx context.Context, providerEventID string) ([]domain.LedgerEntry, error)
	ListByPlayer(ctx context.Context, playerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
}

// AppendParams describes one logical money event.
type AppendParams struct {
	TenantID  uuid.UUID        `validate:"required"`
	PlayerID  uuid.UUID        `validate:"required"`
	Type      domain.EntryType `validate:"required,max=32"`
	Direction domain.Direction `validate:"required,oneof=credit debit"`
	Currency  domain.Currency  `validate:"required,len=3"`
	Status    string           `validate:"required,max=64"`

	TxID            *uuid.UUID
	Amount          decimal.Decimal
	IdempotencyKey  *string
	Provider        *string
	ProviderRef     *string
	ProviderEventID *string
}

type Store struct {
	entries  entryRepository
	validate *validator.Validate
	metrics  *metrics.Metrics
}

func NewStore(entries entryRepository, m *metrics.Metrics) *Store {
	return &Store{
		entries:  entries,
		validate: validator.New(),
		metrics:  m,
	}
}

// AppendEvent inserts the entry inside the caller's transaction and never
// commits. If an entry already exists for (player, idempotency key) or
// (provider, provider event id) that entry is returned with created=false.
func (s *Store) AppendEvent(ctx context.Context, tx *sql.Tx, p AppendParams) (*domain.LedgerEntry, bool, error) {
	if err := s.validate.Struct(&p); err != nil {
		return nil, false, fmt.Errorf("AppendEvent: %w: %v", domain.ErrInvalidRequest, err)
	}
	if !p.Currency.IsValid() {
		return nil, false, fmt.Errorf("AppendEvent: %w", domain.ErrInvalidCurrency)
	}
	if p.Amount.IsNegative() {
		return nil, false, fmt.Errorf("AppendEvent: %w", domain.ErrInvalidAmount)
	}
	p.IdempotencyKey = blankToNil(p.IdempotencyKey)
	p.Provider = blankToNil(p.Provider)
	p.ProviderRef = blankToNil(p.ProviderRef)
	p.ProviderEventID = blankToNil(p.ProviderEventID)

	existing, err := s.findExisting(ctx, tx, p)
	if err != nil {
		return nil, false, fmt.Errorf("AppendEvent: %w", err)
	}
	if existing != nil {
		s.replayed(ctx, existing)
		return existing, false, nil
	}

	entry := &domain.LedgerEntry{
		ID:              uuid.New(),
		TxID:            p.TxID,
		TenantID:        p.TenantID,
		PlayerID:        p.PlayerID,
		Type:            p.Type,
		Direction:       p.Direction,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          p.Status,
		IdempotencyKey:  p.IdempotencyKey,
		Provider:        p.Provider,
		ProviderRef:     p.ProviderRef,
		ProviderEventID: p.ProviderEventID,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.entries.Insert(ctx, tx, entry); err != nil {
		if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return nil, false, fmt.Errorf("AppendEvent: %w", err)
		}
		// Lost the race to a concurrent writer of the same event.
		winner, findErr := s.findExisting(ctx, tx, p)
		if findErr != nil {
			return nil, false, fmt.Errorf("AppendEvent: %w", findErr)
		}
		if winner == nil {
			return nil, false, fmt.Errorf("AppendEvent: conflicting entry not visible: %w", err)
		}
		s.replayed(ctx, winner)
		return winner, false, nil
	}

	s.metrics.LedgerAppends.WithLabelValues(string(entry.Type)).Inc()
	logging.FromContext(ctx).Debug("ledger entry appended",
		"entry_id", entry.ID,
		"player_id", entry.PlayerID,
		"status", entry.Status,
		"amount", entry.Amount.String(),
		"currency", entry.Currency,
	)
	return entry, true, nil
}

func (s *Store) findExisting(ctx context.Context, tx *sql.Tx, p AppendParams) (*domain.LedgerEntry, error) {
	if p.IdempotencyKey != nil {
		e, err := s.entries.FindByIdempotencyKey(ctx, tx, p.PlayerID, *p.IdempotencyKey)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("findExisting: %w", err)
		}
	}
	if p.Provider != nil && p.ProviderEventID != nil {
		e, err := s.entries.FindByProviderEvent(ctx, tx, *p.Provider, *p.ProviderEventID)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("findExisting: %w", err)
		}
	}
	return nil, nil
}

func (s *Store) replayed(ctx context.Context, e *domain.LedgerEntry) {
	s.metrics.LedgerReplays.Inc()
	logging.FromContext(ctx).Info("idempotent replay", "entry_id", e.ID, "player_id", e.PlayerID, "status", e.Status)
}

func (s *Store) GetByTxID(ctx context.Context, txID uuid.UUID) ([]domain.LedgerEntry, error) {
	entries, err := s.entries.GetByTxID(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("GetByTxID: %w", err)
	}
	return entries, nil
}

// GetByProviderEventID looks up entries by provider event id, narrowed to
// provider when it is non-empty.
func (s *Store) GetByProviderEventID(ctx context.Context, provider, providerEventID string) ([]domain.LedgerEntry, error) {
	entries, err := s.entries.GetByProviderEventID(ctx, providerEventID)
	if err != nil {
		return nil, fmt.Errorf("GetByProviderEventID: %w", err)
	}
	if provider == "" {
		return entries, nil
	}
	filtered := entries[:0]
	for _, e := range entries {
		if e.Provider != nil && *e.Provider == provider {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (s *Store) ListByPlayer(ctx context.Context, playerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	entries, total, err := s.entries.ListByPlayer(ctx, playerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByPlayer: %w", err)
	}
	return entries, total, nil
}

func blankToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
