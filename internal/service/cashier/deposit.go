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

type DepositRequest struct {
	TenantID       uuid.UUID       `validate:"required"`
	PlayerID       uuid.UUID       `validate:"required"`
	Amount         decimal.Decimal `validate:"required"`
	Currency       domain.Currency `validate:"required,len=3"`
	IdempotencyKey string          `validate:"required,max=255"`
}

// ProviderConfirmation identifies the provider event behind a capture,
// refund or chargeback. Reference keys the ledger posting so that one order
// can take several partial refunds.
type ProviderConfirmation struct {
	ProviderEventID string
	ProviderRef     string
	Reference       string
	// Amount is used by refunds and chargebacks; zero means the full order.
	Amount decimal.Decimal
	// Currency, when reported, must match the order.
	Currency domain.Currency
}

func (c ProviderConfirmation) checkCurrency(o *domain.Order) error {
	if c.Currency != "" && c.Currency != o.Currency {
		return fmt.Errorf("provider reported %s for %s order: %w", c.Currency, o.Currency, domain.ErrInvalidCurrency)
	}
	return nil
}

// CreateDeposit opens a deposit order. Balances move only on capture.
func (s *Service) CreateDeposit(ctx context.Context, req DepositRequest, actor domain.Actor) (*domain.Order, bool, error) {
	if err := s.validate.Struct(&req); err != nil {
		return nil, false, fmt.Errorf("CreateDeposit: %w: %v", domain.ErrInvalidRequest, err)
	}
	if err := validateAmount(req.Amount, req.Currency); err != nil {
		return nil, false, fmt.Errorf("CreateDeposit: %w", err)
	}

	now := time.Now().UTC()
	provider := s.provider
	o := &domain.Order{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		PlayerID:       req.PlayerID,
		Type:           domain.OrderTypeDeposit,
		Amount:         req.Amount,
		Currency:       req.Currency,
		State:          domain.OrderStateCreated,
		IdempotencyKey: req.IdempotencyKey,
		Provider:       &provider,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	existing, err := s.existingOrder(ctx, o)
	if err != nil {
		return nil, false, fmt.Errorf("CreateDeposit: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	order, created, err := s.createOrder(ctx, o, nil, func(tx *sql.Tx) error {
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{action: "deposit.create"})
	})
	if err != nil {
		return nil, false, fmt.Errorf("CreateDeposit: %w", err)
	}
	return order, created, nil
}

func (s *Service) MarkDepositPending(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	var o *domain.Order
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, orderID, domain.OrderTypeDeposit)
		if err != nil {
			return err
		}
		from := o.State
		changed, err := s.machine.Transition(ctx, tx, o, domain.OrderStatePendingProvider)
		if err != nil || !changed {
			return err
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{action: "deposit.pending", from: from})
	})
	if err != nil {
		return nil, fmt.Errorf("MarkDepositPending: %w", err)
	}
	return o, nil
}

// CaptureDeposit credits the player and completes the order. A deposit still
// in created is moved through pending_provider first.
func (s *Service) CaptureDeposit(ctx context.Context, orderID uuid.UUID, conf ProviderConfirmation, actor domain.Actor) (*domain.Order, error) {
	var o *domain.Order
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, orderID, domain.OrderTypeDeposit)
		if err != nil {
			return err
		}
		if err := conf.checkCurrency(o); err != nil {
			return err
		}
		from := o.State
		if txstate.Normalize(o.State) == domain.OrderStateCreated {
			if _, err := s.machine.Transition(ctx, tx, o, domain.OrderStatePendingProvider); err != nil {
				return err
			}
		}
		changed, err := s.machine.Transition(ctx, tx, o, domain.OrderStateCompleted,
			txstate.TransitionOpts{ProviderEventID: strPtr(conf.ProviderEventID)})
		if err != nil || !changed {
			return err
		}

		credited, err := s.wallet.ApplyDelta(ctx, tx, domain.WalletDelta{
			TenantID:        o.TenantID,
			PlayerID:        o.PlayerID,
			EventType:       domain.StatusDepositCaptured,
			Currency:        o.Currency,
			TxID:            &o.ID,
			EntryType:       domain.EntryTypeDeposit,
			DeltaAvailable:  o.Amount,
			IdempotencyKey:  ledgerKey(domain.StatusDepositCaptured, o.ID),
			Provider:        s.orderProvider(o),
			ProviderRef:     strPtr(conf.ProviderRef),
			ProviderEventID: strPtr(conf.ProviderEventID),
		})
		if err != nil {
			return err
		}
		if !credited {
			// The provider event already credited another order.
			return fmt.Errorf("provider event %s already recorded: %w", conf.ProviderEventID, domain.ErrIdempotencyConflict)
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{action: "deposit.capture", from: from})
	})
	if err != nil {
		return nil, fmt.Errorf("CaptureDeposit: %w", err)
	}
	return o, nil
}

func (s *Service) FailDeposit(ctx context.Context, orderID uuid.UUID, reason string, actor domain.Actor) (*domain.Order, error) {
	var o *domain.Order
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.lockOrder(ctx, tx, orderID, domain.OrderTypeDeposit)
		if err != nil {
			return err
		}
		from := o.State
		changed, err := s.machine.Transition(ctx, tx, o, domain.OrderStateFailed,
			txstate.TransitionOpts{FailureReason: strPtr(reason)})
		if err != nil || !changed {
			return err
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{
			action: "deposit.fail",
			from:   from,
			status: domain.AuditStatusFailed,
			reason: strPtr(reason),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("FailDeposit: %w", err)
	}
	return o, nil
}

// reversalStatuses are the ledger statuses that count against a deposit's
// captured amount.
var reversalStatuses = []string{domain.StatusDepositRefunded, domain.StatusChargeback}

// RefundDeposit returns captured funds to the player's payment method. The
// debit may take available below zero.
func (s *Service) RefundDeposit(ctx context.Context, orderID uuid.UUID, conf ProviderConfirmation, actor domain.Actor) (bool, error) {
	applied, err := s.reverseDeposit(ctx, orderID, conf, domain.StatusDepositRefunded, domain.EntryTypeRefund, "deposit.refund", actor)
	if err != nil {
		return false, fmt.Errorf("RefundDeposit: %w", err)
	}
	return applied, nil
}

// Chargeback claws back a captured deposit on the provider's initiative.
func (s *Service) Chargeback(ctx context.Context, orderID uuid.UUID, conf ProviderConfirmation, actor domain.Actor) (bool, error) {
	applied, err := s.reverseDeposit(ctx, orderID, conf, domain.StatusChargeback, domain.EntryTypeChargeback, "deposit.chargeback", actor)
	if err != nil {
		return false, fmt.Errorf("Chargeback: %w", err)
	}
	return applied, nil
}

func (s *Service) reverseDeposit(
	ctx context.Context,
	orderID uuid.UUID,
	conf ProviderConfirmation,
	eventType string,
	entryType domain.EntryType,
	action string,
	actor domain.Actor,
) (bool, error) {
	if conf.Reference == "" {
		conf.Reference = conf.ProviderEventID
	}
	if conf.Reference == "" {
		return false, fmt.Errorf("reference: %w", domain.ErrInvalidRequest)
	}
	if conf.Amount.IsNegative() {
		return false, domain.ErrInvalidAmount
	}

	var applied bool
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.lockOrder(ctx, tx, orderID, domain.OrderTypeDeposit)
		if err != nil {
			return err
		}
		if txstate.Normalize(o.State) != domain.OrderStateCompleted {
			return &domain.IllegalTransitionError{From: o.State, To: domain.OrderState(eventType), TxType: o.Type}
		}
		if err := conf.checkCurrency(o); err != nil {
			return err
		}

		key := eventType + ":" + o.ID.String() + ":" + conf.Reference
		reversed, seen, err := s.orders.ReversedAmount(ctx, tx, o.ID, reversalStatuses, key, conf.ProviderEventID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		// Refunds and chargebacks together never exceed the capture.
		remaining := o.Amount.Sub(reversed)
		amount := conf.Amount
		if amount.IsZero() {
			amount = remaining
		}
		if !remaining.IsPositive() || amount.GreaterThan(remaining) {
			return fmt.Errorf("order %s has %s of %s left to reverse: %w",
				o.ID, remaining.String(), o.Amount.String(), domain.ErrReversalExceedsCapture)
		}

		applied, err = s.wallet.ApplyDelta(ctx, tx, domain.WalletDelta{
			TenantID:        o.TenantID,
			PlayerID:        o.PlayerID,
			EventType:       eventType,
			Currency:        o.Currency,
			TxID:            &o.ID,
			EntryType:       entryType,
			DeltaAvailable:  amount.Neg(),
			IdempotencyKey:  &key,
			Provider:        s.orderProvider(o),
			ProviderRef:     strPtr(conf.ProviderRef),
			ProviderEventID: strPtr(conf.ProviderEventID),
			AllowNegative:   true,
		})
		if err != nil || !applied {
			return err
		}
		return s.logOrderEvent(ctx, tx, actor, o, orderEvent{
			action: action,
			details: domain.JSONMap{
				"reversed_amount": amount.String(),
				"reference":       conf.Reference,
			},
		})
	})
	if err != nil {
		return false, err
	}

	if applied {
		logging.FromContext(ctx).Info("deposit reversed",
			"order_id", orderID,
			"event_type", eventType,
			"reference", conf.Reference,
		)
	}
	return applied, nil
}

func (s *Service) orderProvider(o *domain.Order) *string {
	if o.Provider != nil {
		return o.Provider
	}
	p := s.provider
	return &p
}
