package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const runColumns = `id, provider, window_start, window_end, dry_run, status,
	idempotency_key, findings_count, error, created_at, started_at, finished_at`

const findingColumns = `id, run_id, provider, tenant_id, player_id, tx_id, provider_event_id,
	finding_type, severity, status, message, details, created_at, resolved_at, resolved_by`

type ReconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) CreateRun(ctx context.Context, run *domain.ReconciliationRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reconciliation_runs (
			id, provider, window_start, window_end, dry_run, status, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Provider, run.WindowStart, run.WindowEnd, run.DryRun,
		run.Status, run.IdempotencyKey, run.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("CreateRun: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("CreateRun: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) GetRun(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM reconciliation_runs WHERE id = $1`, id,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetRun: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return run, nil
}

func (r *ReconciliationRepository) GetRunByIdempotencyKey(ctx context.Context, key string) (*domain.ReconciliationRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM reconciliation_runs WHERE idempotency_key = $1`, key,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetRunByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetRunByIdempotencyKey: %w", err)
	}
	return run, nil
}

// ClaimRun moves a queued run to running. A run left running for longer than
// staleAfter by a worker that died is claimed again. It returns
// domain.ErrNotFound when the run is not claimable or another worker holds it.
func (r *ReconciliationRepository) ClaimRun(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (*domain.ReconciliationRun, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE reconciliation_runs SET status = $1, started_at = now(), error = NULL
		WHERE id = (
			SELECT id FROM reconciliation_runs
			WHERE id = $2
				AND (status = $3 OR (status = $1 AND started_at < now() - make_interval(secs => $4)))
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns,
		domain.RunStatusRunning, id, domain.RunStatusQueued, staleAfter.Seconds(),
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ClaimRun: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("ClaimRun: %w", err)
	}
	return run, nil
}

func (r *ReconciliationRepository) FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, findingsCount int, runErr *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_runs SET status = $1, findings_count = $2, error = $3, finished_at = now()
		WHERE id = $4`,
		status, findingsCount, runErr, id,
	)
	if err != nil {
		return fmt.Errorf("FinishRun: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("FinishRun: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("FinishRun: %w", domain.ErrNotFound)
	}
	return nil
}

// UpsertFinding inserts the finding unless one with the same
// (provider, provider_event_id, finding_type) exists. It reports whether a
// row was written.
func (r *ReconciliationRepository) UpsertFinding(ctx context.Context, tx *sql.Tx, f *domain.ReconciliationFinding) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO reconciliation_findings (
			id, run_id, provider, tenant_id, player_id, tx_id, provider_event_id,
			finding_type, severity, status, message, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (provider, provider_event_id, finding_type) DO NOTHING`,
		f.ID, f.RunID, f.Provider, f.TenantID, f.PlayerID, f.TxID, f.ProviderEventID,
		f.FindingType, f.Severity, f.Status, f.Message, nullJSON(f.Details), f.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("UpsertFinding: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("UpsertFinding: rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *ReconciliationRepository) GetFinding(ctx context.Context, id uuid.UUID) (*domain.ReconciliationFinding, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+findingColumns+` FROM reconciliation_findings WHERE id = $1`, id,
	)
	f, err := scanFinding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetFinding: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetFinding: %w", err)
	}
	return f, nil
}

type FindingFilter struct {
	Provider    string
	Status      domain.FindingStatus
	FindingType domain.FindingType
	RunID       *uuid.UUID
	Limit       int
	Offset      int
}

func (r *ReconciliationRepository) ListFindings(ctx context.Context, filter FindingFilter) ([]domain.ReconciliationFinding, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Provider != "" {
		add("provider = $%d", filter.Provider)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.FindingType != "" {
		add("finding_type = $%d", filter.FindingType)
	}
	if filter.RunID != nil {
		add("run_id = $%d", *filter.RunID)
	}

	query := `SELECT ` + findingColumns + ` FROM reconciliation_findings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListFindings: %w", err)
	}
	defer rows.Close()

	var findings []domain.ReconciliationFinding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("ListFindings: scan: %w", err)
		}
		findings = append(findings, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListFindings: rows: %w", err)
	}
	return findings, nil
}

// ResolveFinding moves an OPEN finding to RESOLVED. It reports false when the
// finding was not OPEN.
func (r *ReconciliationRepository) ResolveFinding(ctx context.Context, id, resolvedBy uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_findings SET status = $1, resolved_at = now(), resolved_by = $2
		WHERE id = $3 AND status = $4`,
		domain.FindingStatusResolved, resolvedBy, id, domain.FindingStatusOpen,
	)
	if err != nil {
		return false, fmt.Errorf("ResolveFinding: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ResolveFinding: rows affected: %w", err)
	}
	return rows == 1, nil
}

// PaidWithdrawalLedgerCount is a paid withdrawal whose withdraw_paid entry
// count is not exactly one.
type PaidWithdrawalLedgerCount struct {
	OrderID         uuid.UUID
	TenantID        uuid.UUID
	PlayerID        uuid.UUID
	ProviderEventID *string
	Entries         int
}

func (r *ReconciliationRepository) PaidWithdrawalsWithBadLedger(ctx context.Context, provider string, start, end time.Time) ([]PaidWithdrawalLedgerCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT o.id, o.tenant_id, o.player_id, o.provider_event_id, COUNT(le.id)
		FROM orders o
		LEFT JOIN ledger_entries le ON le.tx_id = o.id AND le.status = $1
		WHERE o.type = $2 AND o.state = $3 AND o.provider = $4
			AND o.updated_at >= $5 AND o.updated_at < $6
		GROUP BY o.id, o.tenant_id, o.player_id, o.provider_event_id
		HAVING COUNT(le.id) <> 1`,
		domain.StatusWithdrawPaid, domain.OrderTypeWithdrawal, domain.OrderStatePaid,
		provider, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("PaidWithdrawalsWithBadLedger: %w", err)
	}
	defer rows.Close()

	var out []PaidWithdrawalLedgerCount
	for rows.Next() {
		var c PaidWithdrawalLedgerCount
		if err := rows.Scan(&c.OrderID, &c.TenantID, &c.PlayerID, &c.ProviderEventID, &c.Entries); err != nil {
			return nil, fmt.Errorf("PaidWithdrawalsWithBadLedger: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("PaidWithdrawalsWithBadLedger: rows: %w", err)
	}
	return out, nil
}

// OrphanWithdrawPaid is a withdraw_paid entry whose order is missing or not
// in the paid state.
type OrphanWithdrawPaid struct {
	EntryID         uuid.UUID
	TxID            *uuid.UUID
	TenantID        uuid.UUID
	PlayerID        uuid.UUID
	ProviderEventID *string
	OrderState      *string
}

func (r *ReconciliationRepository) WithdrawPaidWithoutPaidOrder(ctx context.Context, provider string, start, end time.Time) ([]OrphanWithdrawPaid, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT le.id, le.tx_id, le.tenant_id, le.player_id, le.provider_event_id, o.state
		FROM ledger_entries le
		LEFT JOIN orders o ON o.id = le.tx_id
		WHERE le.status = $1 AND le.provider = $2
			AND le.created_at >= $3 AND le.created_at < $4
			AND (o.id IS NULL OR o.state <> $5)
		ORDER BY le.created_at`,
		domain.StatusWithdrawPaid, provider, start, end, domain.OrderStatePaid,
	)
	if err != nil {
		return nil, fmt.Errorf("WithdrawPaidWithoutPaidOrder: %w", err)
	}
	defer rows.Close()

	var out []OrphanWithdrawPaid
	for rows.Next() {
		var o OrphanWithdrawPaid
		if err := rows.Scan(&o.EntryID, &o.TxID, &o.TenantID, &o.PlayerID, &o.ProviderEventID, &o.OrderState); err != nil {
			return nil, fmt.Errorf("WithdrawPaidWithoutPaidOrder: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("WithdrawPaidWithoutPaidOrder: rows: %w", err)
	}
	return out, nil
}

// DuplicatePayoutEvent is a provider event id reported by more than one
// payout attempt.
type DuplicatePayoutEvent struct {
	ProviderEventID string
	OrderIDs        []string
	Attempts        int
}

func (r *ReconciliationRepository) DuplicatePayoutProviderEvents(ctx context.Context, provider string, start, end time.Time) ([]DuplicatePayoutEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider_event_id, array_agg(DISTINCT order_id::text), COUNT(*)
		FROM payout_attempts
		WHERE provider = $1 AND provider_event_id IS NOT NULL
			AND created_at >= $2 AND created_at < $3
		GROUP BY provider_event_id
		HAVING COUNT(*) > 1
		ORDER BY provider_event_id`,
		provider, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("DuplicatePayoutProviderEvents: %w", err)
	}
	defer rows.Close()

	var out []DuplicatePayoutEvent
	for rows.Next() {
		var d DuplicatePayoutEvent
		if err := rows.Scan(&d.ProviderEventID, pq.Array(&d.OrderIDs), &d.Attempts); err != nil {
			return nil, fmt.Errorf("DuplicatePayoutProviderEvents: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("DuplicatePayoutProviderEvents: rows: %w", err)
	}
	return out, nil
}

func scanRun(s scanner) (*domain.ReconciliationRun, error) {
	var run domain.ReconciliationRun
	err := s.Scan(
		&run.ID, &run.Provider, &run.WindowStart, &run.WindowEnd, &run.DryRun, &run.Status,
		&run.IdempotencyKey, &run.FindingsCount, &run.Error,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanFinding(s scanner) (*domain.ReconciliationFinding, error) {
	var f domain.ReconciliationFinding
	err := s.Scan(
		&f.ID, &f.RunID, &f.Provider, &f.TenantID, &f.PlayerID, &f.TxID, &f.ProviderEventID,
		&f.FindingType, &f.Severity, &f.Status, &f.Message, &f.Details,
		&f.CreatedAt, &f.ResolvedAt, &f.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
