package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const auditEventColumns = `id, chain_id, sequence, prev_row_hash, row_hash,
	actor_user_id, actor_role, tenant_id, action, resource_type, resource_id,
	result, status, reason, error_code, error_message,
	details, before_data, after_data, diff, metadata, created_at`

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// LockHead returns the chain head with a row lock held until tx ends. The
// head row is created on first use, so concurrent writers to a new chain
// serialize on the same row.
func (r *AuditRepository) LockHead(ctx context.Context, tx *sql.Tx, chainID string) (*domain.ChainHead, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_chain_heads (chain_id) VALUES ($1)
		ON CONFLICT (chain_id) DO NOTHING`,
		chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("LockHead: insert: %w", err)
	}

	var h domain.ChainHead
	err = tx.QueryRowContext(ctx,
		`SELECT chain_id, last_sequence, last_row_hash, updated_at
		FROM audit_chain_heads WHERE chain_id = $1 FOR UPDATE`,
		chainID,
	).Scan(&h.ChainID, &h.LastSequence, &h.LastRowHash, &h.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("LockHead: %w", err)
	}
	return &h, nil
}

func (r *AuditRepository) AdvanceHead(ctx context.Context, tx *sql.Tx, chainID string, sequence int64, rowHash string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE audit_chain_heads SET last_sequence = $1, last_row_hash = $2, updated_at = now()
		WHERE chain_id = $3 AND last_sequence = $1 - 1`,
		sequence, rowHash, chainID,
	)
	if err != nil {
		return fmt.Errorf("AdvanceHead: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("AdvanceHead: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("AdvanceHead: %w", domain.ErrChainIntegrity)
	}
	return nil
}

func (r *AuditRepository) GetHead(ctx context.Context, chainID string) (*domain.ChainHead, error) {
	var h domain.ChainHead
	err := r.db.QueryRowContext(ctx,
		`SELECT chain_id, last_sequence, last_row_hash, updated_at
		FROM audit_chain_heads WHERE chain_id = $1`,
		chainID,
	).Scan(&h.ChainID, &h.LastSequence, &h.LastRowHash, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetHead: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetHead: %w", err)
	}
	return &h, nil
}

func (r *AuditRepository) ListChainIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT chain_id FROM audit_chain_heads ORDER BY chain_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("ListChainIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListChainIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListChainIDs: rows: %w", err)
	}
	return ids, nil
}

func (r *AuditRepository) Insert(ctx context.Context, tx *sql.Tx, e *domain.AuditEvent) error {
	_, err := tx.ExecContext(ctx, insertAuditEventSQL+`)`, auditEventArgs(e)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Insert: %w", domain.ErrChainIntegrity)
		}
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// InsertRestored re-inserts an archived row. Rows still present are left
// untouched, which makes a repeated restore a no-op.
func (r *AuditRepository) InsertRestored(ctx context.Context, tx *sql.Tx, e *domain.AuditEvent) (bool, error) {
	res, err := tx.ExecContext(ctx,
		insertAuditEventSQL+`) ON CONFLICT (chain_id, sequence) DO NOTHING`,
		auditEventArgs(e)...,
	)
	if err != nil {
		return false, fmt.Errorf("InsertRestored: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("InsertRestored: rows affected: %w", err)
	}
	return rows == 1, nil
}

// ListRange returns rows with fromSeq <= sequence <= toSeq in order. A toSeq
// of zero means no upper bound.
func (r *AuditRepository) ListRange(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error) {
	if toSeq == 0 {
		toSeq = math.MaxInt64
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditEventColumns+` FROM audit_events
		WHERE chain_id = $1 AND sequence BETWEEN $2 AND $3
		ORDER BY sequence LIMIT $4`,
		chainID, fromSeq, toSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListRange: %w", err)
	}
	defer rows.Close()

	events, err := collectAuditEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("ListRange: %w", err)
	}
	return events, nil
}

// LastSequenceBefore returns the highest sequence in the chain created before
// cutoff, or zero when there is none.
func (r *AuditRepository) LastSequenceBefore(ctx context.Context, chainID string, cutoff time.Time) (int64, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM audit_events WHERE chain_id = $1 AND created_at < $2`,
		chainID, cutoff,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("LastSequenceBefore: %w", err)
	}
	return seq.Int64, nil
}

// DeleteRange removes an archived range. The audit trigger only permits
// deletes while app.audit_purge is on for the current transaction.
func (r *AuditRepository) DeleteRange(ctx context.Context, tx *sql.Tx, chainID string, fromSeq, toSeq int64) (int64, error) {
	if _, err := tx.ExecContext(ctx, `SET LOCAL app.audit_purge = 'on'`); err != nil {
		return 0, fmt.Errorf("DeleteRange: enable purge: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM audit_events WHERE chain_id = $1 AND sequence BETWEEN $2 AND $3`,
		chainID, fromSeq, toSeq,
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteRange: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteRange: rows affected: %w", err)
	}
	return rows, nil
}

const insertAuditEventSQL = `INSERT INTO audit_events (
		id, chain_id, sequence, prev_row_hash, row_hash,
		actor_user_id, actor_role, tenant_id, action, resource_type, resource_id,
		result, status, reason, error_code, error_message,
		details, before_data, after_data, diff, metadata, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22`

func auditEventArgs(e *domain.AuditEvent) []any {
	return []any{
		e.ID, e.ChainID, e.Sequence, e.PrevRowHash, e.RowHash,
		e.ActorUserID, e.ActorRole, e.TenantID, e.Action, e.ResourceType, e.ResourceID,
		e.Result, e.Status, e.Reason, e.ErrorCode, e.ErrorMessage,
		nullJSON(e.Details), nullJSON(e.Before), nullJSON(e.After), nullJSON(e.Diff), nullJSON(e.Metadata),
		e.Timestamp,
	}
}

func collectAuditEvents(rows *sql.Rows) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return events, nil
}

func scanAuditEvent(s scanner) (*domain.AuditEvent, error) {
	var e domain.AuditEvent
	err := s.Scan(
		&e.ID, &e.ChainID, &e.Sequence, &e.PrevRowHash, &e.RowHash,
		&e.ActorUserID, &e.ActorRole, &e.TenantID, &e.Action, &e.ResourceType, &e.ResourceID,
		&e.Result, &e.Status, &e.Reason, &e.ErrorCode, &e.ErrorMessage,
		&e.Details, &e.Before, &e.After, &e.Diff, &e.Metadata, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
