package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

func newTestEntry() *domain.LedgerEntry {
	key := "withdraw-key-123"
	return &domain.LedgerEntry{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		PlayerID:       uuid.New(),
		Type:           domain.EntryTypeWithdrawal,
		Direction:      domain.DirectionDebit,
		Amount:         decimal.RequireFromString("50.00"),
		Currency:       domain.CurrencyUSD,
		Status:         domain.StatusWithdrawRequested,
		IdempotencyKey: &key,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestLedgerRepository_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("releases savepoint on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewLedgerRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("RELEASE SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, tx, newTestEntry()))
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation rolls back to savepoint", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewLedgerRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_ledger_entries_player_idempotency"})
		mock.ExpectExec("ROLLBACK TO SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		err = repo.Insert(ctx, tx, newTestEntry())
		assert.ErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors propagate", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewLedgerRepository(db)

		boom := errors.New("connection reset")
		mock.ExpectBegin()
		mock.ExpectExec("SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnError(boom)
		mock.ExpectExec("ROLLBACK TO SAVEPOINT ledger_insert").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		err = repo.Insert(ctx, tx, newTestEntry())
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerRepository_FindByIdempotencyKey_NotFound(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewLedgerRepository(db)

	playerID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM ledger_entries").
		WithArgs(playerID, "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = repo.FindByIdempotencyKey(ctx, tx, playerID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_SumNetByCurrency(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewLedgerRepository(db)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	mock.ExpectQuery("SELECT currency").
		WithArgs("mockpay", sqlmock.AnyArg(), start, end).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "net"}).
			AddRow("USD", "1000.000000").
			AddRow("EUR", "-25.500000"))

	totals, err := repo.SumNetByCurrency(ctx, "mockpay", domain.SettlementStatuses, start, end)
	require.NoError(t, err)
	assert.True(t, totals[domain.CurrencyUSD].Equal(decimal.RequireFromString("1000")))
	assert.True(t, totals[domain.CurrencyEUR].Equal(decimal.RequireFromString("-25.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = WithTx(context.Background(), db, func(_ *sql.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
