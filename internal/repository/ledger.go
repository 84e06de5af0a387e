package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const ledgerColumns = `id, tx_id, tenant_id, player_id, type, direction, amount, currency,
	status, idempotency_key, provider, provider_ref, provider_event_id, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Insert writes the entry inside a savepoint so that a unique violation from
// a concurrent duplicate leaves the caller's transaction usable. The violation
// is reported as domain.ErrDuplicateIdempotencyKey.
func (r *LedgerRepository) Insert(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT ledger_insert`); err != nil {
		return fmt.Errorf("Insert: savepoint: %w", err)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, tx_id, tenant_id, player_id, type, direction, amount, currency,
			status, idempotency_key, provider, provider_ref, provider_event_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.TxID, e.TenantID, e.PlayerID, e.Type, e.Direction, e.Amount, e.Currency,
		e.Status, e.IdempotencyKey, e.Provider, e.ProviderRef, e.ProviderEventID, e.CreatedAt,
	)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT ledger_insert`); rbErr != nil {
			return fmt.Errorf("Insert: rollback to savepoint: %v (insert err: %w)", rbErr, err)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("Insert: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT ledger_insert`); err != nil {
		return fmt.Errorf("Insert: release savepoint: %w", err)
	}
	return nil
}

func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, tx *sql.Tx, playerID uuid.UUID, key string) (*domain.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE player_id = $1 AND idempotency_key = $2`,
		playerID, key,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindByIdempotencyKey: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) FindByProviderEvent(ctx context.Context, tx *sql.Tx, provider, providerEventID string) (*domain.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE provider = $1 AND provider_event_id = $2`,
		provider, providerEventID,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindByProviderEvent: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindByProviderEvent: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) GetByTxID(ctx context.Context, txID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE tx_id = $1 ORDER BY created_at, id`, txID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByTxID: %w", err)
	}
	defer rows.Close()

	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("GetByTxID: %w", err)
	}
	return entries, nil
}

// GetByProviderEventID searches across providers; the caller narrows the
// result when it knows the provider.
func (r *LedgerRepository) GetByProviderEventID(ctx context.Context, providerEventID string) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE provider_event_id = $1 ORDER BY created_at, id`, providerEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByProviderEventID: %w", err)
	}
	defer rows.Close()

	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("GetByProviderEventID: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) ListByPlayer(ctx context.Context, playerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE player_id = $1`, playerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByPlayer: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE player_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		playerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByPlayer: %w", err)
	}
	defer rows.Close()

	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByPlayer: %w", err)
	}
	return entries, total, nil
}

// SumNetByCurrency returns credits minus debits per currency for the
// provider's entries with one of statuses, created in [start, end).
func (r *LedgerRepository) SumNetByCurrency(ctx context.Context, provider string, statuses []string, start, end time.Time) (map[domain.Currency]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT currency,
			COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE provider = $1 AND status = ANY($2) AND created_at >= $3 AND created_at < $4
		GROUP BY currency`,
		provider, pq.Array(statuses), start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("SumNetByCurrency: %w", err)
	}
	defer rows.Close()

	totals := make(map[domain.Currency]decimal.Decimal)
	for rows.Next() {
		var (
			currency domain.Currency
			net      decimal.Decimal
		)
		if err := rows.Scan(&currency, &net); err != nil {
			return nil, fmt.Errorf("SumNetByCurrency: scan: %w", err)
		}
		totals[currency] = net
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SumNetByCurrency: rows: %w", err)
	}
	return totals, nil
}

func collectLedgerEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(
		&e.ID, &e.TxID, &e.TenantID, &e.PlayerID, &e.Type, &e.Direction,
		&e.Amount, &e.Currency, &e.Status, &e.IdempotencyKey,
		&e.Provider, &e.ProviderRef, &e.ProviderEventID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
