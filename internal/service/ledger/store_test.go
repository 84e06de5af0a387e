package ledger

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/testutil"
)

func strPtr(s string) *string { return &s }

func depositParams(tenantID, playerID uuid.UUID, key string) AppendParams {
	return AppendParams{
		TenantID:       tenantID,
		PlayerID:       playerID,
		Type:           domain.EntryTypeDeposit,
		Direction:      domain.DirectionCredit,
		Currency:       domain.CurrencyUSD,
		Status:         domain.StatusDepositCaptured,
		Amount:         decimal.RequireFromString("100.00"),
		IdempotencyKey: strPtr(key),
	}
}

func appendInTx(t *testing.T, db *sql.DB, store *Store, p AppendParams) (*domain.LedgerEntry, bool, error) {
	t.Helper()
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	entry, created, err := store.AppendEvent(ctx, tx, p)
	if err != nil {
		return nil, false, err
	}
	require.NoError(t, tx.Commit())
	return entry, created, nil
}

func TestAppendEvent_LostRaceReturnsWinner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(repository.NewLedgerRepository(db), metrics.NewUnregistered())
	tenantID, playerID := uuid.New(), uuid.New()
	p := depositParams(tenantID, playerID, "dep-1")
	winnerID := uuid.New()

	columns := []string{"id", "tx_id", "tenant_id", "player_id", "type", "direction", "amount", "currency",
		"status", "idempotency_key", "provider", "provider_ref", "provider_event_id", "created_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM ledger_entries").
		WithArgs(playerID, "dep-1").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectExec("SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec("ROLLBACK TO SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM ledger_entries").
		WithArgs(playerID, "dep-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			winnerID.String(), nil, tenantID.String(), playerID.String(), "deposit", "credit", "100.000000", "USD",
			domain.StatusDepositCaptured, "dep-1", nil, nil, nil, time.Now().UTC(),
		))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	entry, created, err := store.AppendEvent(ctx, tx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winnerID, entry.ID)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent_Validation(t *testing.T) {
	store := NewStore(nil, metrics.NewUnregistered())
	tenantID, playerID := uuid.New(), uuid.New()

	tests := []struct {
		name   string
		mutate func(p *AppendParams)
		want   error
	}{
		{"negative amount", func(p *AppendParams) { p.Amount = decimal.RequireFromString("-1") }, domain.ErrInvalidAmount},
		{"missing status", func(p *AppendParams) { p.Status = "" }, domain.ErrInvalidRequest},
		{"bad direction", func(p *AppendParams) { p.Direction = "sideways" }, domain.ErrInvalidRequest},
		{"missing player", func(p *AppendParams) { p.PlayerID = uuid.Nil }, domain.ErrInvalidRequest},
		{"lowercase currency", func(p *AppendParams) { p.Currency = "usd" }, domain.ErrInvalidCurrency},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := depositParams(tenantID, playerID, "k")
			tc.mutate(&p)
			_, _, err := store.AppendEvent(context.Background(), nil, p)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAppendEvent_IdempotentByKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := NewStore(repository.NewLedgerRepository(db), metrics.NewUnregistered())
	tenantID, playerID := uuid.New(), uuid.New()

	first, created, err := appendInTx(t, db, store, depositParams(tenantID, playerID, "dep-key"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := appendInTx(t, db, store, depositParams(tenantID, playerID, "dep-key"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, playerID))
}

func TestAppendEvent_IdempotentByProviderEvent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := NewStore(repository.NewLedgerRepository(db), metrics.NewUnregistered())
	tenantID, playerID := uuid.New(), uuid.New()

	p1 := depositParams(tenantID, playerID, "key-a")
	p1.Provider, p1.ProviderEventID = strPtr("mockpay"), strPtr("evt-1")
	p2 := depositParams(tenantID, playerID, "key-b")
	p2.Provider, p2.ProviderEventID = strPtr("mockpay"), strPtr("evt-1")

	first, created, err := appendInTx(t, db, store, p1)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := appendInTx(t, db, store, p2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	found, err := store.GetByProviderEventID(context.Background(), "mockpay", "evt-1")
	require.NoError(t, err)
	require.Len(t, found, 1)

	other, err := store.GetByProviderEventID(context.Background(), "otherpay", "evt-1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAppendEvent_ConcurrentDuplicatesConverge(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := NewStore(repository.NewLedgerRepository(db), metrics.NewUnregistered())
	tenantID, playerID := uuid.New(), uuid.New()

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[uuid.UUID]int)
		created int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			tx, err := db.BeginTx(ctx, nil)
			if !assert.NoError(t, err) {
				return
			}
			defer tx.Rollback()

			entry, ok, err := store.AppendEvent(ctx, tx, depositParams(tenantID, playerID, "same-key"))
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, tx.Commit()) {
				return
			}

			mu.Lock()
			ids[entry.ID]++
			if ok {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, playerID))
}

func TestLedgerEntries_AreImmutable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := NewStore(repository.NewLedgerRepository(db), metrics.NewUnregistered())

	entry, _, err := appendInTx(t, db, store, depositParams(uuid.New(), uuid.New(), "immutable"))
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE ledger_entries SET amount = 1 WHERE id = $1`, entry.ID)
	assert.Error(t, err)
	_, err = db.Exec(`DELETE FROM ledger_entries WHERE id = $1`, entry.ID)
	assert.Error(t, err)
}

func TestListByPlayer_Pages(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := NewStore(repository.NewLedgerRepository(db), metrics.NewUnregistered())
	tenantID, playerID := uuid.New(), uuid.New()

	for i := range 3 {
		_, _, err := appendInTx(t, db, store, depositParams(tenantID, playerID, uuid.NewString()))
		require.NoError(t, err, "append %d", i)
	}

	page, total, err := store.ListByPlayer(context.Background(), playerID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
}
