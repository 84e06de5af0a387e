package reconciliation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/audit"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/cashier"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/ledger"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/txstate"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/wallet"
	"github.com/josh-kwaku/casino-wallet-core/internal/testutil"
)

type approvingGateway struct{}

func (approvingGateway) Payout(_ context.Context, req cashier.PayoutRequest) (*cashier.PayoutResult, error) {
	return &cashier.PayoutResult{Success: true, ProviderEventID: "evt-" + req.IdempotencyKey, ProviderRef: "ref-" + req.IdempotencyKey}, nil
}

// Orders here come from the cashier workflow rather than fixtures, so the
// checks see exactly the provider and ledger rows production writes.
func TestConsistencyFindings_CashierWithdrawals(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := metrics.NewUnregistered()

	store := ledger.NewStore(repository.NewLedgerRepository(db), m)
	walletSvc := wallet.NewService(repository.NewPlayerRepository(db), repository.NewWalletRepository(db), store, db, m)
	orders := repository.NewOrderRepository(db)
	trail := audit.NewTrail(repository.NewAuditRepository(db), repository.NewArchiveManifestRepository(db), db, m)
	svc := cashier.NewService(
		orders,
		repository.NewPayoutAttemptRepository(db),
		walletSvc,
		txstate.NewMachine(orders, m),
		trail,
		approvingGateway{},
		db,
		testProvider,
		m,
	)

	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "100.00")
	operator := domain.Actor{Role: "operator"}
	request := func(key, amount string) *domain.Order {
		o, _, err := svc.RequestWithdrawal(ctx, cashier.WithdrawalRequest{
			TenantID:       p.TenantID,
			PlayerID:       p.ID,
			Amount:         dec(amount),
			Currency:       p.Currency,
			IdempotencyKey: key,
		}, operator)
		require.NoError(t, err)
		_, err = svc.ApproveWithdrawal(ctx, o.ID, operator)
		require.NoError(t, err)
		return o
	}

	paid := request("wd-paid", "40.00")
	settled, err := svc.AttemptPayout(ctx, paid.ID, "payout-1", "", operator)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatePaid, settled.State)
	require.NotNil(t, settled.Provider)
	assert.Equal(t, testProvider, *settled.Provider)

	// Paid without the matching ledger debit.
	skipped := request("wd-skipped", "20.00")
	_, err = db.ExecContext(ctx, `UPDATE orders SET state = 'paid', updated_at = now() WHERE id = $1`, skipped.ID)
	require.NoError(t, err)

	e := newEngine(db, &staticReport{totals: map[domain.Currency]decimal.Decimal{domain.CurrencyUSD: dec("-40.00")}}, "0.01")
	run := runWindow(t, e, false)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	miss := listFindings(t, e, domain.FindingLedgerMissingWithdrawPaid)
	require.Len(t, miss, 1)
	assert.Equal(t, skipped.ID, *miss[0].TxID)
	assert.Empty(t, listFindings(t, e, domain.FindingLedgerDuplicateWithdrawPaid))
	assert.Empty(t, listFindings(t, e, domain.FindingLedgerPresentButTxNotPaid))
	assert.Empty(t, listFindings(t, e, domain.FindingPayoutAttemptDuplicateProvider))
}
