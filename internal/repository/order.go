package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const orderColumns = `id, tenant_id, player_id, type, amount, currency, state,
	idempotency_key, provider, provider_event_id, failure_reason, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order. A second order with the same
// (player_id, idempotency_key) fails with domain.ErrDuplicateIdempotencyKey.
func (r *OrderRepository) Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (
			id, tenant_id, player_id, type, amount, currency, state,
			idempotency_key, provider, provider_event_id, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.TenantID, o.PlayerID, o.Type, o.Amount, o.Currency, o.State,
		o.IdempotencyKey, o.Provider, o.ProviderEventID, o.FailureReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, playerID uuid.UUID, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE player_id = $1 AND idempotency_key = $2`,
		playerID, key,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return o, nil
}

// UpdateState persists a transition. failureReason and providerEventID are
// only written when non-nil.
func (r *OrderRepository) UpdateState(ctx context.Context, tx *sql.Tx, id uuid.UUID, state domain.OrderState, failureReason, providerEventID *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = $1,
			failure_reason = COALESCE($2, failure_reason),
			provider_event_id = COALESCE($3, provider_event_id),
			updated_at = now()
		WHERE id = $4`,
		state, failureReason, providerEventID, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateState: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateState: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateState: %w", domain.ErrNotFound)
	}
	return nil
}

// ReversedAmount sums the ledger entries with one of statuses posted against
// the order, and reports whether one of them already carries key or
// providerEventID. Call it with the order row locked.
func (r *OrderRepository) ReversedAmount(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, statuses []string, key, providerEventID string) (decimal.Decimal, bool, error) {
	var (
		total decimal.Decimal
		seen  bool
	)
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0),
			COALESCE(bool_or(idempotency_key = $3 OR provider_event_id = $4), false)
		FROM ledger_entries
		WHERE tx_id = $1 AND status = ANY($2)`,
		orderID, pq.Array(statuses), key, providerEventID,
	).Scan(&total, &seen)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("ReversedAmount: %w", err)
	}
	return total, seen, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	err := s.Scan(
		&o.ID, &o.TenantID, &o.PlayerID, &o.Type, &o.Amount, &o.Currency, &o.State,
		&o.IdempotencyKey, &o.Provider, &o.ProviderEventID, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
