// Package txstate holds the deposit and withdrawal lifecycles.
package txstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
)

var aliases = map[domain.OrderState]domain.OrderState{
	"pending_review": domain.OrderStateRequested,
	"succeeded":      domain.OrderStateCompleted,
}

var transitions = map[domain.OrderType]map[domain.OrderState][]domain.OrderState{
	domain.OrderTypeDeposit: {
		domain.OrderStateCreated:         {domain.OrderStatePendingProvider, domain.OrderStateFailed},
		domain.OrderStatePendingProvider: {domain.OrderStateCompleted, domain.OrderStateFailed},
	},
	domain.OrderTypeWithdrawal: {
		domain.OrderStateRequested:     {domain.OrderStateApproved, domain.OrderStateRejected, domain.OrderStateCanceled},
		domain.OrderStateApproved:      {domain.OrderStatePaid, domain.OrderStatePayoutPending},
		domain.OrderStatePayoutPending: {domain.OrderStatePaid, domain.OrderStatePayoutFailed},
		domain.OrderStatePayoutFailed:  {domain.OrderStatePayoutPending, domain.OrderStateRejected},
	},
}

var terminal = map[domain.OrderState]bool{
	domain.OrderStateCompleted: true,
	domain.OrderStateFailed:    true,
	domain.OrderStatePaid:      true,
	domain.OrderStateRejected:  true,
	domain.OrderStateCanceled:  true,
}

// Normalize maps legacy state names onto the canonical ones.
func Normalize(s domain.OrderState) domain.OrderState {
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}

func AllowedNext(t domain.OrderType, from domain.OrderState) []domain.OrderState {
	next := transitions[t][Normalize(from)]
	out := make([]domain.OrderState, len(next))
	copy(out, next)
	return out
}

func IsTerminal(s domain.OrderState) bool {
	return terminal[Normalize(s)]
}

// Validate reports whether from -> to is legal for t. Same-state moves are
// legal so that retried transitions succeed.
func Validate(t domain.OrderType, from, to domain.OrderState) error {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return nil
	}
	for _, s := range transitions[t][from] {
		if s == to {
			return nil
		}
	}
	return &domain.IllegalTransitionError{From: from, To: to, TxType: t}
}

type orderStore interface {
	UpdateState(ctx context.Context, tx *sql.Tx, id uuid.UUID, state domain.OrderState, failureReason, providerEventID *string) error
}

type Machine struct {
	orders  orderStore
	metrics *metrics.Metrics
}

func NewMachine(orders orderStore, m *metrics.Metrics) *Machine {
	return &Machine{orders: orders, metrics: m}
}

// TransitionOpts carries optional columns written with the new state.
type TransitionOpts struct {
	FailureReason   *string
	ProviderEventID *string
}

// Transition moves o to the target state inside tx and updates o in place.
// It returns false for a same-state no-op. It never touches balances or the
// audit trail; callers pair it with those in the same transaction.
func (m *Machine) Transition(ctx context.Context, tx *sql.Tx, o *domain.Order, to domain.OrderState, opts ...TransitionOpts) (bool, error) {
	from := Normalize(o.State)
	to = Normalize(to)

	if err := Validate(o.Type, from, to); err != nil {
		m.metrics.Transitions.WithLabelValues(string(o.Type), string(to), "rejected").Inc()
		return false, fmt.Errorf("Transition: %w", err)
	}
	if from == to {
		o.State = to
		return false, nil
	}

	var opt TransitionOpts
	if len(opts) > 0 {
		opt = opts[0]
	}
	if err := m.orders.UpdateState(ctx, tx, o.ID, to, opt.FailureReason, opt.ProviderEventID); err != nil {
		return false, fmt.Errorf("Transition: %w", err)
	}

	o.State = to
	if opt.FailureReason != nil {
		o.FailureReason = opt.FailureReason
	}
	if opt.ProviderEventID != nil {
		o.ProviderEventID = opt.ProviderEventID
	}

	m.metrics.Transitions.WithLabelValues(string(o.Type), string(to), "applied").Inc()
	logging.FromContext(ctx).Info("order state changed",
		"order_id", o.ID,
		"type", o.Type,
		"from", from,
		"to", to,
	)
	return true, nil
}
