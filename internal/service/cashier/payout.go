package cashier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/txstate"
)

// AttemptPayout sends an approved (or previously failed) withdrawal to the
// provider. The order moves to payout_pending before the call and is settled
// in a second transaction afterwards; the hold stays in place until the
// provider confirms. Replaying a settled attempt key returns the order as is.
// A transport error leaves the attempt pending so the same key can be retried.
func (s *Service) AttemptPayout(ctx context.Context, orderID uuid.UUID, key, outcomeHint string, actor domain.Actor) (*domain.Order, error) {
	if key == "" {
		return nil, fmt.Errorf("AttemptPayout: idempotency key: %w", domain.ErrInvalidRequest)
	}
	ctx = logging.With(ctx, "order_id", orderID, "payout_key", key)

	var (
		o       *domain.Order
		attempt *domain.PayoutAttempt
	)
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, orderID, domain.OrderTypeWithdrawal)
		if err != nil {
			return err
		}

		attempt, err = s.payouts.GetByOrderAndKey(ctx, orderID, key)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if o.State == domain.OrderStatePayoutPending {
			return domain.ErrPayoutInFlight
		}
		from := o.State
		if _, err := s.machine.Transition(ctx, tx, o, domain.OrderStatePayoutPending); err != nil {
			return err
		}

		now := time.Now().UTC()
		attempt = &domain.PayoutAttempt{
			ID:             uuid.New(),
			OrderID:        o.ID,
			Provider:       s.provider,
			IdempotencyKey: key,
			Outcome:        domain.PayoutOutcomePending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.payouts.Create(ctx, tx, attempt); err != nil {
			return err
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{
			action:  "withdrawal.payout_attempt",
			from:    from,
			details: domain.JSONMap{"attempt_id": attempt.ID.String(), "provider": s.provider},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("AttemptPayout: %w", err)
	}
	if attempt.Outcome != domain.PayoutOutcomePending {
		return o, nil
	}

	start := time.Now()
	result, err := s.gateway.Payout(ctx, PayoutRequest{
		OrderID:        o.ID,
		PlayerID:       o.PlayerID,
		Amount:         o.Amount,
		Currency:       o.Currency,
		IdempotencyKey: key,
		OutcomeHint:    outcomeHint,
	})
	if err != nil {
		s.metrics.PayoutCalls.WithLabelValues("error").Inc()
		logging.FromContext(ctx).Error("payout gateway call failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("AttemptPayout: gateway: %w", err)
	}

	settled, err := s.SettlePayout(ctx, orderID, key, *result, actor)
	if err != nil {
		return nil, fmt.Errorf("AttemptPayout: %w", err)
	}
	return settled, nil
}

// SettlePayout records the provider's answer for the attempt identified by
// key. Success debits the hold and marks the order paid; failure moves it to
// payout_failed with the hold intact. Settling an attempt twice is a no-op.
func (s *Service) SettlePayout(ctx context.Context, orderID uuid.UUID, key string, result PayoutResult, actor domain.Actor) (*domain.Order, error) {
	outcome := domain.PayoutOutcomeFailed
	if result.Success {
		outcome = domain.PayoutOutcomeSuccess
	}

	var (
		o       *domain.Order
		settled bool
	)
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, orderID, domain.OrderTypeWithdrawal)
		if err != nil {
			return err
		}
		attempt, err := s.payouts.GetByOrderAndKey(ctx, orderID, key)
		if err != nil {
			return err
		}
		if attempt.Outcome != domain.PayoutOutcomePending {
			return nil
		}

		attempt.Outcome = outcome
		attempt.ProviderEventID = strPtr(result.ProviderEventID)
		attempt.ProviderRef = strPtr(result.ProviderRef)
		attempt.FailureReason = strPtr(result.FailureReason)
		if err := s.payouts.RecordOutcome(ctx, tx, attempt); err != nil {
			return err
		}
		settled = true

		// A late answer for an order another attempt already finished only
		// updates the attempt row.
		if txstate.IsTerminal(o.State) {
			return nil
		}

		from := o.State
		if result.Success {
			return s.markPaid(ctx, tx, o, from, attempt, actor)
		}

		reason := result.FailureReason
		if reason == "" {
			reason = "provider declined payout"
		}
		if _, err := s.machine.Transition(ctx, tx, o, domain.OrderStatePayoutFailed,
			txstate.TransitionOpts{FailureReason: &reason}); err != nil {
			return err
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{
			action:  "withdrawal.payout_failed",
			from:    from,
			status:  domain.AuditStatusFailed,
			reason:  &reason,
			details: domain.JSONMap{"attempt_id": attempt.ID.String()},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("SettlePayout: %w", err)
	}

	if settled {
		s.metrics.PayoutCalls.WithLabelValues(string(outcome)).Inc()
		logging.FromContext(ctx).Info("payout settled",
			"order_id", o.ID,
			"outcome", outcome,
			"state", o.State,
		)
	}
	return o, nil
}

func (s *Service) markPaid(ctx context.Context, tx *sql.Tx, o *domain.Order, from domain.OrderState, attempt *domain.PayoutAttempt, actor domain.Actor) error {
	if _, err := s.machine.Transition(ctx, tx, o, domain.OrderStatePaid,
		txstate.TransitionOpts{ProviderEventID: attempt.ProviderEventID}); err != nil {
		return err
	}

	provider := attempt.Provider
	_, err := s.wallet.ApplyDelta(ctx, tx, domain.WalletDelta{
		TenantID:        o.TenantID,
		PlayerID:        o.PlayerID,
		EventType:       domain.StatusWithdrawPaid,
		Currency:        o.Currency,
		TxID:            &o.ID,
		EntryType:       domain.EntryTypeWithdrawal,
		DeltaHeld:       o.Amount.Neg(),
		IdempotencyKey:  ledgerKey(domain.StatusWithdrawPaid, o.ID),
		Provider:        &provider,
		ProviderRef:     attempt.ProviderRef,
		ProviderEventID: attempt.ProviderEventID,
	})
	if err != nil {
		return err
	}
	return s.logOrderEvent(ctx, tx, actor, o, orderEvent{
		action:  "withdrawal.paid",
		from:    from,
		details: domain.JSONMap{"attempt_id": attempt.ID.String(), "provider": provider},
	})
}
