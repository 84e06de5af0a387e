package cashier

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/txstate"
)

type WithdrawalRequest struct {
	TenantID       uuid.UUID       `validate:"required"`
	PlayerID       uuid.UUID       `validate:"required"`
	Amount         decimal.Decimal `validate:"required"`
	Currency       domain.Currency `validate:"required,len=3"`
	IdempotencyKey string          `validate:"required,max=255"`
}

// RequestWithdrawal places a hold on the amount and opens the order in
// requested. A repeat with the same key returns the original order and
// created=false without touching balances.
func (s *Service) RequestWithdrawal(ctx context.Context, req WithdrawalRequest, actor domain.Actor) (*domain.Order, bool, error) {
	if err := s.validate.Struct(&req); err != nil {
		return nil, false, fmt.Errorf("RequestWithdrawal: %w: %v", domain.ErrInvalidRequest, err)
	}
	if err := validateAmount(req.Amount, req.Currency); err != nil {
		return nil, false, fmt.Errorf("RequestWithdrawal: %w", err)
	}

	now := time.Now().UTC()
	provider := s.provider
	o := &domain.Order{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		PlayerID:       req.PlayerID,
		Type:           domain.OrderTypeWithdrawal,
		Amount:         req.Amount,
		Currency:       req.Currency,
		State:          domain.OrderStateRequested,
		IdempotencyKey: req.IdempotencyKey,
		Provider:       &provider,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	existing, err := s.existingOrder(ctx, o)
	if err != nil {
		return nil, false, fmt.Errorf("RequestWithdrawal: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	order, created, err := s.createOrder(ctx, o, func(tx *sql.Tx) error {
		_, err := s.wallet.ApplyDelta(ctx, tx, domain.WalletDelta{
			TenantID:       o.TenantID,
			PlayerID:       o.PlayerID,
			EventType:      domain.StatusWithdrawRequested,
			Currency:       o.Currency,
			TxID:           &o.ID,
			DeltaAvailable: o.Amount.Neg(),
			DeltaHeld:      o.Amount,
			IdempotencyKey: ledgerKey(domain.StatusWithdrawRequested, o.ID),
		})
		return err
	}, func(tx *sql.Tx) error {
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{action: "withdrawal.request"})
	})
	if err != nil {
		return nil, false, fmt.Errorf("RequestWithdrawal: %w", err)
	}

	if created {
		logging.FromContext(ctx).Info("withdrawal requested",
			"order_id", order.ID,
			"player_id", order.PlayerID,
			"amount", order.Amount.String(),
			"currency", order.Currency,
		)
	}
	return order, created, nil
}

func (s *Service) ApproveWithdrawal(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	var o *domain.Order
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, orderID, domain.OrderTypeWithdrawal)
		if err != nil {
			return err
		}
		from := o.State
		changed, err := s.machine.Transition(ctx, tx, o, domain.OrderStateApproved)
		if err != nil || !changed {
			return err
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{action: "withdrawal.approve", from: from})
	})
	if err != nil {
		return nil, fmt.Errorf("ApproveWithdrawal: %w", err)
	}
	return o, nil
}

// RejectWithdrawal releases the hold back to available.
func (s *Service) RejectWithdrawal(ctx context.Context, orderID uuid.UUID, reason string, actor domain.Actor) (*domain.Order, error) {
	o, err := s.releaseHold(ctx, orderID, domain.OrderStateRejected, domain.StatusWithdrawRejected, "withdrawal.reject", reason, actor)
	if err != nil {
		return nil, fmt.Errorf("RejectWithdrawal: %w", err)
	}
	return o, nil
}

// CancelWithdrawal is the player-initiated counterpart of RejectWithdrawal.
func (s *Service) CancelWithdrawal(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	o, err := s.releaseHold(ctx, orderID, domain.OrderStateCanceled, domain.StatusWithdrawCanceled, "withdrawal.cancel", "", actor)
	if err != nil {
		return nil, fmt.Errorf("CancelWithdrawal: %w", err)
	}
	return o, nil
}

func (s *Service) releaseHold(
	ctx context.Context,
	orderID uuid.UUID,
	to domain.OrderState,
	eventType, action, reason string,
	actor domain.Actor,
) (*domain.Order, error) {
	var o *domain.Order
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, orderID, domain.OrderTypeWithdrawal)
		if err != nil {
			return err
		}
		from := o.State
		changed, err := s.machine.Transition(ctx, tx, o, to, txstate.TransitionOpts{FailureReason: strPtr(reason)})
		if err != nil || !changed {
			return err
		}

		_, err = s.wallet.ApplyDelta(ctx, tx, domain.WalletDelta{
			TenantID:       o.TenantID,
			PlayerID:       o.PlayerID,
			EventType:      eventType,
			Currency:       o.Currency,
			TxID:           &o.ID,
			EntryType:      domain.EntryTypeWithdrawal,
			DeltaAvailable: o.Amount,
			DeltaHeld:      o.Amount.Neg(),
			IdempotencyKey: ledgerKey(eventType, o.ID),
		})
		if err != nil {
			return err
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{
			action: action,
			from:   from,
			reason: strPtr(reason),
		})
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
