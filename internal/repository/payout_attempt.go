package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const payoutAttemptColumns = `id, order_id, provider, provider_event_id, provider_ref,
	idempotency_key, outcome, failure_reason, created_at, updated_at`

type PayoutAttemptRepository struct {
	db *sql.DB
}

func NewPayoutAttemptRepository(db *sql.DB) *PayoutAttemptRepository {
	return &PayoutAttemptRepository{db: db}
}

func (r *PayoutAttemptRepository) Create(ctx context.Context, tx *sql.Tx, a *domain.PayoutAttempt) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payout_attempts (
			id, order_id, provider, provider_event_id, provider_ref,
			idempotency_key, outcome, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OrderID, a.Provider, a.ProviderEventID, a.ProviderRef,
		a.IdempotencyKey, a.Outcome, a.FailureReason, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PayoutAttemptRepository) GetByOrderAndKey(ctx context.Context, orderID uuid.UUID, key string) (*domain.PayoutAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+payoutAttemptColumns+` FROM payout_attempts
		WHERE order_id = $1 AND idempotency_key = $2`,
		orderID, key,
	)
	a, err := scanPayoutAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByOrderAndKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByOrderAndKey: %w", err)
	}
	return a, nil
}

func (r *PayoutAttemptRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.PayoutAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+payoutAttemptColumns+` FROM payout_attempts
		WHERE order_id = $1 ORDER BY created_at, id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOrder: %w", err)
	}
	defer rows.Close()

	var attempts []domain.PayoutAttempt
	for rows.Next() {
		a, err := scanPayoutAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByOrder: scan: %w", err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOrder: rows: %w", err)
	}
	return attempts, nil
}

func (r *PayoutAttemptRepository) RecordOutcome(ctx context.Context, tx *sql.Tx, a *domain.PayoutAttempt) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payout_attempts SET outcome = $1, provider_event_id = $2, provider_ref = $3,
			failure_reason = $4, updated_at = now()
		WHERE id = $5`,
		a.Outcome, a.ProviderEventID, a.ProviderRef, a.FailureReason, a.ID,
	)
	if err != nil {
		return fmt.Errorf("RecordOutcome: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RecordOutcome: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("RecordOutcome: %w", domain.ErrNotFound)
	}
	return nil
}

func scanPayoutAttempt(s scanner) (*domain.PayoutAttempt, error) {
	var a domain.PayoutAttempt
	err := s.Scan(
		&a.ID, &a.OrderID, &a.Provider, &a.ProviderEventID, &a.ProviderRef,
		&a.IdempotencyKey, &a.Outcome, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
