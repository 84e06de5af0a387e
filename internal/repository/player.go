package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const playerColumns = `id, tenant_id, external_ref, currency, status,
	balance_available, balance_held, created_at, updated_at`

type PlayerRepository struct {
	db *sql.DB
}

func NewPlayerRepository(db *sql.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

func (r *PlayerRepository) Create(ctx context.Context, p *domain.Player) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO players (
			id, tenant_id, external_ref, currency, status,
			balance_available, balance_held, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.TenantID, p.ExternalRef, p.Currency, p.Status,
		p.BalanceAvailable, p.BalanceHeld, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PlayerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id,
	)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

// GetForUpdate locks the player row. It is the first lock taken by every
// balance mutation for the player.
func (r *PlayerRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Player, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

func (r *PlayerRepository) UpdateMirror(ctx context.Context, tx *sql.Tx, id uuid.UUID, available, held decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE players SET balance_available = $1, balance_held = $2, updated_at = now()
		WHERE id = $3`,
		available, held, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateMirror: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateMirror: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateMirror: %w", domain.ErrNotFound)
	}
	return nil
}

func scanPlayer(s scanner) (*domain.Player, error) {
	var p domain.Player
	err := s.Scan(
		&p.ID, &p.TenantID, &p.ExternalRef, &p.Currency, &p.Status,
		&p.BalanceAvailable, &p.BalanceHeld, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
