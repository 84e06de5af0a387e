package txstate

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
)

type fakeOrders struct {
	updates []domain.OrderState
	err     error
}

func (f *fakeOrders) UpdateState(_ context.Context, _ *sql.Tx, _ uuid.UUID, state domain.OrderState, _, _ *string) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, state)
	return nil
}

func TestValidate(t *testing.T) {
	tests := []struct {
		typ   domain.OrderType
		from  domain.OrderState
		to    domain.OrderState
		legal bool
	}{
		{domain.OrderTypeDeposit, "created", "pending_provider", true},
		{domain.OrderTypeDeposit, "created", "failed", true},
		{domain.OrderTypeDeposit, "pending_provider", "completed", true},
		{domain.OrderTypeDeposit, "pending_provider", "succeeded", true},
		{domain.OrderTypeDeposit, "created", "completed", false},
		{domain.OrderTypeDeposit, "completed", "failed", false},

		{domain.OrderTypeWithdrawal, "requested", "approved", true},
		{domain.OrderTypeWithdrawal, "pending_review", "approved", true},
		{domain.OrderTypeWithdrawal, "requested", "rejected", true},
		{domain.OrderTypeWithdrawal, "requested", "canceled", true},
		{domain.OrderTypeWithdrawal, "approved", "paid", true},
		{domain.OrderTypeWithdrawal, "approved", "payout_pending", true},
		{domain.OrderTypeWithdrawal, "payout_pending", "paid", true},
		{domain.OrderTypeWithdrawal, "payout_pending", "payout_failed", true},
		{domain.OrderTypeWithdrawal, "payout_failed", "payout_pending", true},
		{domain.OrderTypeWithdrawal, "payout_failed", "rejected", true},
		{domain.OrderTypeWithdrawal, "requested", "paid", false},
		{domain.OrderTypeWithdrawal, "approved", "rejected", false},
		{domain.OrderTypeWithdrawal, "paid", "rejected", false},
		{domain.OrderTypeWithdrawal, "rejected", "approved", false},
		{domain.OrderTypeWithdrawal, "canceled", "requested", false},

		{domain.OrderTypeDeposit, "requested", "approved", false},
		{domain.OrderTypeWithdrawal, "created", "pending_provider", false},
	}

	for _, tc := range tests {
		t.Run(string(tc.typ)+"/"+string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			err := Validate(tc.typ, tc.from, tc.to)
			if tc.legal {
				assert.NoError(t, err)
				return
			}
			var ite *domain.IllegalTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, tc.typ, ite.TxType)
			assert.Equal(t, Normalize(tc.from), ite.From)
			assert.Equal(t, Normalize(tc.to), ite.To)
			assert.Equal(t, domain.CodeIllegalTransition, ite.Code())
			assert.ErrorIs(t, err, domain.ErrIllegalTransition)
		})
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, typ := range []domain.OrderType{domain.OrderTypeDeposit, domain.OrderTypeWithdrawal} {
		for state := range terminal {
			assert.True(t, IsTerminal(state))
			assert.Empty(t, AllowedNext(typ, state), "%s %s", typ, state)
		}
	}
	assert.False(t, IsTerminal(domain.OrderStatePayoutFailed))
	assert.True(t, IsTerminal("succeeded"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, domain.OrderStateRequested, Normalize("pending_review"))
	assert.Equal(t, domain.OrderStateCompleted, Normalize("succeeded"))
	assert.Equal(t, domain.OrderStatePaid, Normalize(domain.OrderStatePaid))
}

func TestAllowedNext_ReturnsCopy(t *testing.T) {
	next := AllowedNext(domain.OrderTypeWithdrawal, domain.OrderStateRequested)
	next[0] = "tampered"
	assert.Equal(t, domain.OrderStateApproved, AllowedNext(domain.OrderTypeWithdrawal, domain.OrderStateRequested)[0])
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("persists legal move", func(t *testing.T) {
		store := &fakeOrders{}
		m := NewMachine(store, metrics.NewUnregistered())
		o := &domain.Order{ID: uuid.New(), Type: domain.OrderTypeWithdrawal, State: domain.OrderStateRequested}

		changed, err := m.Transition(ctx, nil, o, domain.OrderStateApproved)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.OrderStateApproved, o.State)
		assert.Equal(t, []domain.OrderState{domain.OrderStateApproved}, store.updates)
	})

	t.Run("same state is a no-op", func(t *testing.T) {
		store := &fakeOrders{}
		m := NewMachine(store, metrics.NewUnregistered())
		o := &domain.Order{ID: uuid.New(), Type: domain.OrderTypeWithdrawal, State: domain.OrderStatePaid}

		changed, err := m.Transition(ctx, nil, o, domain.OrderStatePaid)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Empty(t, store.updates)
	})

	t.Run("alias of current state is a no-op", func(t *testing.T) {
		store := &fakeOrders{}
		m := NewMachine(store, metrics.NewUnregistered())
		o := &domain.Order{ID: uuid.New(), Type: domain.OrderTypeWithdrawal, State: "pending_review"}

		changed, err := m.Transition(ctx, nil, o, domain.OrderStateRequested)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, domain.OrderStateRequested, o.State)
	})

	t.Run("illegal move is rejected without writing", func(t *testing.T) {
		store := &fakeOrders{}
		m := NewMachine(store, metrics.NewUnregistered())
		o := &domain.Order{ID: uuid.New(), Type: domain.OrderTypeWithdrawal, State: domain.OrderStatePaid}

		_, err := m.Transition(ctx, nil, o, domain.OrderStateRejected)
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
		assert.Empty(t, store.updates)
		assert.Equal(t, domain.OrderStatePaid, o.State)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		boom := errors.New("boom")
		m := NewMachine(&fakeOrders{err: boom}, metrics.NewUnregistered())
		o := &domain.Order{ID: uuid.New(), Type: domain.OrderTypeDeposit, State: domain.OrderStateCreated}

		_, err := m.Transition(ctx, nil, o, domain.OrderStatePendingProvider)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, domain.OrderStateCreated, o.State)
	})

	t.Run("records failure reason", func(t *testing.T) {
		m := NewMachine(&fakeOrders{}, metrics.NewUnregistered())
		o := &domain.Order{ID: uuid.New(), Type: domain.OrderTypeDeposit, State: domain.OrderStatePendingProvider}
		reason := "card declined"

		_, err := m.Transition(ctx, nil, o, domain.OrderStateFailed, TransitionOpts{FailureReason: &reason})
		require.NoError(t, err)
		require.NotNil(t, o.FailureReason)
		assert.Equal(t, reason, *o.FailureReason)
	})
}
