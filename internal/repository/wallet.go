package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const walletColumns = `tenant_id, player_id, currency, balance_available, balance_pending, updated_at`

type WalletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Get reads the snapshot without locking. A missing row is ErrNotFound; the
// caller decides whether that means zero.
func (r *WalletRepository) Get(ctx context.Context, tenantID, playerID uuid.UUID, currency domain.Currency) (*domain.WalletBalance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallet_balances
		WHERE tenant_id = $1 AND player_id = $2 AND currency = $3`,
		tenantID, playerID, currency,
	)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return w, nil
}

// GetOrCreateForUpdate creates the zero row on first use and then locks it.
// Two callers racing on creation both end up waiting on the same row lock.
func (r *WalletRepository) GetOrCreateForUpdate(ctx context.Context, tx *sql.Tx, tenantID, playerID uuid.UUID, currency domain.Currency) (*domain.WalletBalance, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_balances (tenant_id, player_id, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, player_id, currency) DO NOTHING`,
		tenantID, playerID, currency,
	)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateForUpdate: insert: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallet_balances
		WHERE tenant_id = $1 AND player_id = $2 AND currency = $3 FOR UPDATE`,
		tenantID, playerID, currency,
	)
	w, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateForUpdate: %w", err)
	}
	return w, nil
}

func (r *WalletRepository) Update(ctx context.Context, tx *sql.Tx, w *domain.WalletBalance) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallet_balances SET balance_available = $1, balance_pending = $2, updated_at = now()
		WHERE tenant_id = $3 AND player_id = $4 AND currency = $5`,
		w.Available, w.Pending, w.TenantID, w.PlayerID, w.Currency,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrNotFound)
	}
	return nil
}

func scanWallet(s scanner) (*domain.WalletBalance, error) {
	var w domain.WalletBalance
	err := s.Scan(
		&w.TenantID, &w.PlayerID, &w.Currency,
		&w.Available, &w.Pending, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
