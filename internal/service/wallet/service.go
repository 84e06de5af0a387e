// Package wallet maintains the balance snapshot. ApplyDelta is the only code
// path that writes wallet_balances or the player balance mirror.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/ledger"
)

type playerRepository interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Player, error)
	UpdateMirror(ctx context.Context, tx *sql.Tx, id uuid.UUID, available, held decimal.Decimal) error
}

type walletRepository interface {
	Get(ctx context.Context, tenantID, playerID uuid.UUID, currency domain.Currency) (*domain.WalletBalance, error)
	GetOrCreateForUpdate(ctx context.Context, tx *sql.Tx, tenantID, playerID uuid.UUID, currency domain.Currency) (*domain.WalletBalance, error)
	Update(ctx context.Context, tx *sql.Tx, w *domain.WalletBalance) error
}

type ledgerAppender interface {
	AppendEvent(ctx context.Context, tx *sql.Tx, p ledger.AppendParams) (*domain.LedgerEntry, bool, error)
}

type Service struct {
	players  playerRepository
	wallets  walletRepository
	ledger   ledgerAppender
	db       *sql.DB
	validate *validator.Validate
	metrics  *metrics.Metrics
}

func NewService(players playerRepository, wallets walletRepository, ledger ledgerAppender, db *sql.DB, m *metrics.Metrics) *Service {
	return &Service{
		players:  players,
		wallets:  wallets,
		ledger:   ledger,
		db:       db,
		validate: validator.New(),
		metrics:  m,
	}
}

// ApplyDelta records the event in the ledger and moves the balances inside
// tx. It returns false without touching balances when the event was already
// recorded. A *domain.WalletInvariantError means tx must be rolled back.
//
// Locks are taken player row first, then the wallet row, so two deltas for
// the same player never deadlock.
func (s *Service) ApplyDelta(ctx context.Context, tx *sql.Tx, d domain.WalletDelta) (bool, error) {
	if err := s.validate.Struct(&d); err != nil {
		return false, fmt.Errorf("ApplyDelta: %w: %v", domain.ErrInvalidRequest, err)
	}
	if !d.Currency.IsValid() {
		return false, fmt.Errorf("ApplyDelta: %w", domain.ErrInvalidCurrency)
	}
	if d.DeltaAvailable.IsZero() && d.DeltaHeld.IsZero() {
		return false, fmt.Errorf("ApplyDelta: empty delta: %w", domain.ErrInvalidAmount)
	}

	player, err := s.players.GetForUpdate(ctx, tx, d.PlayerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, s.violation(ctx, &domain.WalletInvariantError{
				Code: domain.CodePlayerNotFound, TenantID: d.TenantID, PlayerID: d.PlayerID, Currency: d.Currency,
			})
		}
		return false, fmt.Errorf("ApplyDelta: lock player: %w", err)
	}
	if player.TenantID != d.TenantID {
		return false, s.violation(ctx, &domain.WalletInvariantError{
			Code: domain.CodePlayerNotFound, TenantID: d.TenantID, PlayerID: d.PlayerID, Currency: d.Currency,
		})
	}

	wallet, err := s.wallets.GetOrCreateForUpdate(ctx, tx, d.TenantID, d.PlayerID, d.Currency)
	if err != nil {
		return false, fmt.Errorf("ApplyDelta: lock wallet: %w", err)
	}

	direction, amount := movement(d)
	entryType := d.EntryType
	if entryType == "" {
		entryType = domain.EntryTypeForStatus(d.EventType)
	}

	_, created, err := s.ledger.AppendEvent(ctx, tx, ledger.AppendParams{
		TenantID:        d.TenantID,
		PlayerID:        d.PlayerID,
		TxID:            d.TxID,
		Type:            entryType,
		Direction:       direction,
		Amount:          amount,
		Currency:        d.Currency,
		Status:          d.EventType,
		IdempotencyKey:  d.IdempotencyKey,
		Provider:        d.Provider,
		ProviderRef:     d.ProviderRef,
		ProviderEventID: d.ProviderEventID,
	})
	if err != nil {
		return false, fmt.Errorf("ApplyDelta: %w", err)
	}
	if !created {
		s.metrics.WalletDeltas.WithLabelValues(d.EventType, "replay").Inc()
		return false, nil
	}

	wallet.Available = wallet.Available.Add(d.DeltaAvailable)
	wallet.Pending = wallet.Pending.Add(d.DeltaHeld)

	mirrored := player.Currency == d.Currency
	mirrorAvailable := player.BalanceAvailable.Add(d.DeltaAvailable)
	mirrorHeld := player.BalanceHeld.Add(d.DeltaHeld)

	if !d.AllowNegative {
		if verr := checkNonNegative(d, wallet.Available, wallet.Pending); verr != nil {
			return false, s.violation(ctx, verr)
		}
		if mirrored {
			if verr := checkNonNegative(d, mirrorAvailable, mirrorHeld); verr != nil {
				return false, s.violation(ctx, verr)
			}
		}
	}

	if err := s.wallets.Update(ctx, tx, wallet); err != nil {
		return false, fmt.Errorf("ApplyDelta: update wallet: %w", err)
	}
	if mirrored {
		if err := s.players.UpdateMirror(ctx, tx, player.ID, mirrorAvailable, mirrorHeld); err != nil {
			return false, fmt.Errorf("ApplyDelta: update mirror: %w", err)
		}
	}

	s.metrics.WalletDeltas.WithLabelValues(d.EventType, "applied").Inc()
	logging.FromContext(ctx).Info("wallet delta applied",
		"player_id", d.PlayerID,
		"event_type", d.EventType,
		"currency", d.Currency,
		"delta_available", d.DeltaAvailable.String(),
		"delta_held", d.DeltaHeld.String(),
		"allow_negative", d.AllowNegative,
	)
	return true, nil
}

// Apply runs ApplyDelta in its own transaction, for callers such as game
// round callbacks that have nothing else to write.
func (s *Service) Apply(ctx context.Context, d domain.WalletDelta) (bool, error) {
	var applied bool
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		applied, err = s.ApplyDelta(ctx, tx, d)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("Apply: %w", err)
	}
	return applied, nil
}

// GetBalance never creates a row; an untouched wallet reads as zero.
func (s *Service) GetBalance(ctx context.Context, tenantID, playerID uuid.UUID, currency domain.Currency) (*domain.WalletBalance, error) {
	if !currency.IsValid() {
		return nil, fmt.Errorf("GetBalance: %w", domain.ErrInvalidCurrency)
	}
	w, err := s.wallets.Get(ctx, tenantID, playerID, currency)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.WalletBalance{
				TenantID:  tenantID,
				PlayerID:  playerID,
				Currency:  currency,
				Available: decimal.Zero,
				Pending:   decimal.Zero,
			}, nil
		}
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return w, nil
}

func (s *Service) violation(ctx context.Context, err *domain.WalletInvariantError) error {
	s.metrics.InvariantViolation.WithLabelValues(err.Code).Inc()
	logging.FromContext(ctx).Warn("wallet invariant violated",
		"code", err.Code,
		"player_id", err.PlayerID,
		"currency", err.Currency,
	)
	return fmt.Errorf("ApplyDelta: %w", err)
}

func checkNonNegative(d domain.WalletDelta, available, held decimal.Decimal) *domain.WalletInvariantError {
	var code string
	switch {
	case available.IsNegative():
		code = domain.CodeInsufficientFunds
	case held.IsNegative():
		code = domain.CodeNegativeHeld
	default:
		return nil
	}
	return &domain.WalletInvariantError{
		Code:      code,
		TenantID:  d.TenantID,
		PlayerID:  d.PlayerID,
		Currency:  d.Currency,
		Available: available,
		Held:      held,
	}
}

// movement derives the ledger direction and amount from the deltas. The
// available side wins when both move; a held-only delta (a payout burning
// the hold) is a debit when the hold shrinks.
func movement(d domain.WalletDelta) (domain.Direction, decimal.Decimal) {
	delta := d.DeltaAvailable
	if delta.IsZero() {
		delta = d.DeltaHeld
	}
	if delta.IsNegative() {
		return domain.DirectionDebit, delta.Abs()
	}
	return domain.DirectionCredit, delta
}
