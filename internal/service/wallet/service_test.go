package wallet

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/ledger"
	"github.com/josh-kwaku/casino-wallet-core/internal/testutil"
)

func setupWallet(t *testing.T) (*sql.DB, *Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	m := metrics.NewUnregistered()
	store := ledger.NewStore(repository.NewLedgerRepository(db), m)
	svc := NewService(
		repository.NewPlayerRepository(db),
		repository.NewWalletRepository(db),
		store,
		db,
		m,
	)
	return db, svc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

func withdrawHold(p *domain.Player, amount, key string) domain.WalletDelta {
	a := dec(amount)
	return domain.WalletDelta{
		TenantID:       p.TenantID,
		PlayerID:       p.ID,
		EventType:      domain.StatusWithdrawRequested,
		Currency:       p.Currency,
		DeltaAvailable: a.Neg(),
		DeltaHeld:      a,
		IdempotencyKey: strPtr(key),
	}
}

func assertBalances(t *testing.T, db *sql.DB, p *domain.Player, available, held string) {
	t.Helper()
	b := testutil.GetBalances(t, db, p.ID, p.Currency)
	assert.True(t, b.Available.Equal(dec(available)), "available = %s, want %s", b.Available, available)
	assert.True(t, b.Pending.Equal(dec(held)), "pending = %s, want %s", b.Pending, held)
	assert.True(t, b.MirrorAvailable.Equal(b.Available), "mirror available %s != wallet %s", b.MirrorAvailable, b.Available)
	assert.True(t, b.MirrorHeld.Equal(b.Pending), "mirror held %s != wallet %s", b.MirrorHeld, b.Pending)
}

func TestApply_HoldIsIdempotent(t *testing.T) {
	db, svc := setupWallet(t)
	ctx := context.Background()
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "100.00")

	applied, err := svc.Apply(ctx, withdrawHold(p, "50.00", "withdraw-key-123"))
	require.NoError(t, err)
	assert.True(t, applied)
	assertBalances(t, db, p, "50.00", "50.00")

	applied, err = svc.Apply(ctx, withdrawHold(p, "50.00", "withdraw-key-123"))
	require.NoError(t, err)
	assert.False(t, applied)
	assertBalances(t, db, p, "50.00", "50.00")
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, p.ID))
}

func TestApply_InsufficientFundsRollsBack(t *testing.T) {
	db, svc := setupWallet(t)
	ctx := context.Background()
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "10.00")

	_, err := svc.Apply(ctx, withdrawHold(p, "10.01", "too-much"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	var inv *domain.WalletInvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, domain.CodeInsufficientFunds, inv.Code)

	assertBalances(t, db, p, "10.00", "0")
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, db, p.ID))
}

func TestApply_NegativeHeldRejected(t *testing.T) {
	db, svc := setupWallet(t)
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "10.00")

	_, err := svc.Apply(context.Background(), domain.WalletDelta{
		TenantID:  p.TenantID,
		PlayerID:  p.ID,
		EventType: domain.StatusWithdrawPaid,
		Currency:  p.Currency,
		DeltaHeld: dec("-5"),
	})
	assert.ErrorIs(t, err, domain.ErrNegativeHeld)
	assertBalances(t, db, p, "10.00", "0")
}

func TestApply_PlayerNotFound(t *testing.T) {
	_, svc := setupWallet(t)

	_, err := svc.Apply(context.Background(), domain.WalletDelta{
		TenantID:       uuid.New(),
		PlayerID:       uuid.New(),
		EventType:      domain.StatusDepositCaptured,
		Currency:       domain.CurrencyUSD,
		DeltaAvailable: dec("1"),
	})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestApply_WrongTenantIsNotFound(t *testing.T) {
	db, svc := setupWallet(t)
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "10.00")

	_, err := svc.Apply(context.Background(), domain.WalletDelta{
		TenantID:       uuid.New(),
		PlayerID:       p.ID,
		EventType:      domain.StatusDepositCaptured,
		Currency:       domain.CurrencyUSD,
		DeltaAvailable: dec("1"),
	})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestApply_ChargebackMayGoNegative(t *testing.T) {
	db, svc := setupWallet(t)
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "20.00")

	applied, err := svc.Apply(context.Background(), domain.WalletDelta{
		TenantID:        p.TenantID,
		PlayerID:        p.ID,
		EventType:       domain.StatusChargeback,
		Currency:        p.Currency,
		DeltaAvailable:  dec("-50.00"),
		Provider:        strPtr("mockpay"),
		ProviderEventID: strPtr("cb-1"),
		AllowNegative:   true,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assertBalances(t, db, p, "-30.00", "0")
}

func TestApply_SecondaryCurrencyLeavesMirror(t *testing.T) {
	db, svc := setupWallet(t)
	ctx := context.Background()
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "5.00")

	applied, err := svc.Apply(ctx, domain.WalletDelta{
		TenantID:       p.TenantID,
		PlayerID:       p.ID,
		EventType:      domain.StatusDepositCaptured,
		Currency:       domain.CurrencyEUR,
		DeltaAvailable: dec("12.50"),
		IdempotencyKey: strPtr("eur-dep"),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	eur, err := svc.GetBalance(ctx, p.TenantID, p.ID, domain.CurrencyEUR)
	require.NoError(t, err)
	assert.True(t, eur.Available.Equal(dec("12.50")))

	assertBalances(t, db, p, "5.00", "0")
}

func TestGetBalance_AbsentIsZeroAndNotCreated(t *testing.T) {
	db, svc := setupWallet(t)
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "5.00")

	b, err := svc.GetBalance(context.Background(), p.TenantID, p.ID, domain.CurrencyGBP)
	require.NoError(t, err)
	assert.True(t, b.Available.IsZero())
	assert.True(t, b.Total().IsZero())

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM wallet_balances WHERE player_id = $1 AND currency = 'GBP'`, p.ID,
	).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestApply_ConcurrentWithdrawalsOnlyOneWins(t *testing.T) {
	db, svc := setupWallet(t)
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "100.00")

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), withdrawHold(p, "60.00", uuid.NewString()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("worker %d: unexpected error: %v", i, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, insufficient)
	assertBalances(t, db, p, "40.00", "60.00")
}

func TestApply_ConcurrentReplaysApplyOnce(t *testing.T) {
	db, svc := setupWallet(t)
	p := testutil.SeedPlayer(t, db, uuid.New(), domain.CurrencyUSD, "100.00")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), withdrawHold(p, "10.00", "same-key"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertBalances(t, db, p, "90.00", "10.00")
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, p.ID))
}

func TestMovement(t *testing.T) {
	tests := []struct {
		name      string
		available string
		held      string
		direction domain.Direction
		amount    string
	}{
		{"deposit", "25", "0", domain.DirectionCredit, "25"},
		{"hold", "-25", "25", domain.DirectionDebit, "25"},
		{"release hold", "25", "-25", domain.DirectionCredit, "25"},
		{"burn hold", "0", "-25", domain.DirectionDebit, "25"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir, amt := movement(domain.WalletDelta{DeltaAvailable: dec(tc.available), DeltaHeld: dec(tc.held)})
			assert.Equal(t, tc.direction, dir)
			assert.True(t, amt.Equal(dec(tc.amount)))
		})
	}
}
