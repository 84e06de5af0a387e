package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

func TestWithTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE players").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
			_, err := tx.Exec("UPDATE players SET available_balance = 0")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and passes the error through", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
			return domain.ErrInsufficientFunds
		})
		assert.Equal(t, domain.ErrInsufficientFunds, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps commit failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

		err = WithTx(context.Background(), db, func(tx *sql.Tx) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "WithTx: commit")
	})
}
