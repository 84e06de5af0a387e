// Package cashier runs the deposit and withdrawal workflows. Every step
// pairs a state transition with its balance delta and audit event inside a
// single database transaction.
package cashier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/txstate"
)

type orderRepo interface {
	Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, playerID uuid.UUID, key string) (*domain.Order, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	ReversedAmount(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, statuses []string, key, providerEventID string) (decimal.Decimal, bool, error)
}

type payoutRepo interface {
	Create(ctx context.Context, tx *sql.Tx, a *domain.PayoutAttempt) error
	GetByOrderAndKey(ctx context.Context, orderID uuid.UUID, key string) (*domain.PayoutAttempt, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.PayoutAttempt, error)
	RecordOutcome(ctx context.Context, tx *sql.Tx, a *domain.PayoutAttempt) error
}

type walletApplier interface {
	ApplyDelta(ctx context.Context, tx *sql.Tx, d domain.WalletDelta) (bool, error)
}

type stateMachine interface {
	Transition(ctx context.Context, tx *sql.Tx, o *domain.Order, to domain.OrderState, opts ...txstate.TransitionOpts) (bool, error)
}

type auditLogger interface {
	LogEvent(ctx context.Context, tx *sql.Tx, in domain.AuditInput) (*domain.AuditEvent, error)
}

// PayoutGateway sends a withdrawal to the payment provider. It is called
// outside any database transaction and must be idempotent by IdempotencyKey.
type PayoutGateway interface {
	Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

type PayoutRequest struct {
	OrderID        uuid.UUID
	PlayerID       uuid.UUID
	Amount         decimal.Decimal
	Currency       domain.Currency
	IdempotencyKey string
	// OutcomeHint is forwarded to sandbox providers to force an outcome.
	OutcomeHint string
}

type PayoutResult struct {
	Success         bool
	ProviderEventID string
	ProviderRef     string
	FailureReason   string
}

type Service struct {
	orders   orderRepo
	payouts  payoutRepo
	wallet   walletApplier
	machine  stateMachine
	audit    auditLogger
	gateway  PayoutGateway
	db       *sql.DB
	provider string
	validate *validator.Validate
	metrics  *metrics.Metrics
}

func NewService(
	orders orderRepo,
	payouts payoutRepo,
	wallet walletApplier,
	machine stateMachine,
	audit auditLogger,
	gateway PayoutGateway,
	db *sql.DB,
	provider string,
	m *metrics.Metrics,
) *Service {
	return &Service{
		orders:   orders,
		payouts:  payouts,
		wallet:   wallet,
		machine:  machine,
		audit:    audit,
		gateway:  gateway,
		db:       db,
		provider: provider,
		validate: validator.New(),
		metrics:  m,
	}
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetOrder: %w", err)
	}
	return o, nil
}

func (s *Service) ListPayoutAttempts(ctx context.Context, orderID uuid.UUID) ([]domain.PayoutAttempt, error) {
	attempts, err := s.payouts.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("ListPayoutAttempts: %w", err)
	}
	return attempts, nil
}

// createOrder inserts o between before and after in one transaction. Either
// hook may be nil. When another request with the same key wins the race, the
// winner's order is returned with created=false. The loser can fail inside
// before (a hold finding the winner's funds already taken) rather than on the
// unique index, so any failure is checked against the stored key.
func (s *Service) createOrder(ctx context.Context, o *domain.Order, before, after func(tx *sql.Tx) error) (*domain.Order, bool, error) {
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}
		if err := s.orders.Create(ctx, tx, o); err != nil {
			return err
		}
		if after != nil {
			return after(tx)
		}
		return nil
	})
	if err == nil {
		return o, true, nil
	}

	existing, getErr := s.existingOrder(ctx, o)
	if getErr != nil {
		if errors.Is(getErr, domain.ErrIdempotencyConflict) {
			return nil, false, getErr
		}
		return nil, false, err
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

// existingOrder returns the order already stored under o's idempotency key,
// or nil. A stored order with different parameters is a conflict.
func (s *Service) existingOrder(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	existing, err := s.orders.GetByIdempotencyKey(ctx, o.PlayerID, o.IdempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.Type != o.Type ||
		existing.TenantID != o.TenantID ||
		existing.Currency != o.Currency ||
		!existing.Amount.Equal(o.Amount) {
		return nil, domain.ErrIdempotencyConflict
	}
	return existing, nil
}

// lockOrder loads the order for update and checks its type.
func (s *Service) lockOrder(ctx context.Context, tx *sql.Tx, id uuid.UUID, t domain.OrderType) (*domain.Order, error) {
	o, err := s.orders.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if o.Type != t {
		return nil, fmt.Errorf("order %s is a %s: %w", o.ID, o.Type, domain.ErrOrderTypeMismatch)
	}
	return o, nil
}

type orderEvent struct {
	action  string
	from    domain.OrderState
	status  domain.AuditStatus
	reason  *string
	details domain.JSONMap
}

func (s *Service) logOrderEvent(ctx context.Context, tx *sql.Tx, actor domain.Actor, o *domain.Order, ev orderEvent) error {
	details := domain.JSONMap{
		"amount":   o.Amount.String(),
		"currency": string(o.Currency),
		"type":     string(o.Type),
	}
	for k, v := range ev.details {
		details[k] = v
	}

	in := domain.AuditInput{
		ActorUserID:  actor.UserID,
		ActorRole:    actor.Role,
		TenantID:     o.TenantID,
		Action:       ev.action,
		ResourceType: "order",
		ResourceID:   o.ID.String(),
		Result:       string(o.State),
		Status:       ev.status,
		Reason:       ev.reason,
		Details:      details,
		After:        domain.JSONMap{"state": string(o.State)},
	}
	if ev.from != "" {
		in.Before = domain.JSONMap{"state": string(ev.from)}
	}
	if _, err := s.audit.LogEvent(ctx, tx, in); err != nil {
		return fmt.Errorf("audit %s: %w", ev.action, err)
	}
	return nil
}

func validateAmount(amount decimal.Decimal, currency domain.Currency) error {
	if !currency.IsValid() {
		return domain.ErrInvalidCurrency
	}
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	return nil
}

func ledgerKey(status string, orderID uuid.UUID) *string {
	k := status + ":" + orderID.String()
	return &k
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
