package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const webhookEventColumns = `id, provider, idempotency_key, event_type, payload, status,
	attempts, last_attempt, last_error, created_at`

// maxWebhookErrorLen bounds the stored failure text.
const maxWebhookErrorLen = 1024

// WebhookEventRepository is the provider callback inbox. Rows move
// pending -> processing -> dispatched, or to failed once retrying is
// pointless. Failed rows stay until an operator requeues them.
type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create stores the callback. A redelivery of the same provider event fails
// with domain.ErrDuplicateIdempotencyKey.
func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, provider, idempotency_key, event_type, payload, status, attempts, last_attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Provider, event.IdempotencyKey, event.EventType, nullJSON(event.Payload),
		event.Status, event.Attempts, event.LastAttempt, event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending flips up to limit pending events to processing and returns
// them. Events stuck in processing for longer than staleAfter are reclaimed
// from a processor that died mid-batch.
func (r *WebhookEventRepository) ClaimPending(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE webhook_events SET status = $1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE status = $2
				OR (status = $1 AND last_attempt < now() - make_interval(secs => $3))
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+webhookEventColumns,
		domain.WebhookEventStatusProcessing, domain.WebhookEventStatusPending,
		staleAfter.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	events, err := scanWebhookEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	return events, nil
}

// UpdateStatus records the outcome of one processing attempt. cause is kept
// as last_error; nil clears it.
func (r *WebhookEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus, cause error) error {
	var lastErr *string
	if cause != nil {
		msg := cause.Error()
		if len(msg) > maxWebhookErrorLen {
			msg = msg[:maxWebhookErrorLen]
		}
		lastErr = &msg
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events
		SET status = $1, attempts = attempts + 1, last_attempt = now(), last_error = $2
		WHERE id = $3`,
		status, lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return expectOneRow(res, "UpdateStatus")
}

// ListFailed pages through dead-lettered events, oldest first.
func (r *WebhookEventRepository) ListFailed(ctx context.Context, limit, offset int) ([]domain.WebhookEvent, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM webhook_events WHERE status = $1`,
		domain.WebhookEventStatusFailed,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListFailed: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`,
		domain.WebhookEventStatusFailed, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListFailed: %w", err)
	}
	defer rows.Close()

	events, err := scanWebhookEvents(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListFailed: %w", err)
	}
	return events, total, nil
}

// Requeue puts a failed event back in the inbox with a fresh attempt
// budget. Only failed events can be requeued.
func (r *WebhookEventRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1, attempts = 0
		WHERE id = $2 AND status = $3`,
		domain.WebhookEventStatusPending, id, domain.WebhookEventStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("Requeue: %w", err)
	}
	return expectOneRow(res, "Requeue")
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanWebhookEvents(rows *sql.Rows) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
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

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := s.Scan(
		&e.ID, &e.Provider, &e.IdempotencyKey, &e.EventType, &e.Payload,
		&e.Status, &e.Attempts, &e.LastAttempt, &e.LastError, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
