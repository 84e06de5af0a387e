package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/cashier"
)

const (
	webhookBatchSize   = 10
	webhookStaleAfter  = 2 * time.Minute
	webhookMaxAttempts = 5
)

type webhookRepo interface {
	ClaimPending(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.WebhookEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus, cause error) error
}

type orderWorkflows interface {
	MarkDepositPending(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error)
	CaptureDeposit(ctx context.Context, orderID uuid.UUID, conf cashier.ProviderConfirmation, actor domain.Actor) (*domain.Order, error)
	FailDeposit(ctx context.Context, orderID uuid.UUID, reason string, actor domain.Actor) (*domain.Order, error)
	RefundDeposit(ctx context.Context, orderID uuid.UUID, conf cashier.ProviderConfirmation, actor domain.Actor) (bool, error)
	Chargeback(ctx context.Context, orderID uuid.UUID, conf cashier.ProviderConfirmation, actor domain.Actor) (bool, error)
	SettlePayout(ctx context.Context, orderID uuid.UUID, key string, result cashier.PayoutResult, actor domain.Actor) (*domain.Order, error)
}

// WebhookProcessor drains the webhook inbox and applies each provider
// callback through the cashier workflows.
type WebhookProcessor struct {
	webhooks webhookRepo
	cashier  orderWorkflows
	logger   *slog.Logger
	interval time.Duration
}

func NewWebhookProcessor(webhooks webhookRepo, cashier orderWorkflows, logger *slog.Logger, interval time.Duration) *WebhookProcessor {
	return &WebhookProcessor{
		webhooks: webhooks,
		cashier:  cashier,
		logger:   logger,
		interval: interval,
	}
}

func (p *WebhookProcessor) Start(ctx context.Context) {
	p.logger.Info("webhook processor started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("webhook processor stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *WebhookProcessor) poll(ctx context.Context) {
	events, err := p.webhooks.ClaimPending(ctx, webhookBatchSize, webhookStaleAfter)
	if err != nil {
		p.logger.Error("failed to claim pending webhook events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error("failed to process webhook event",
				"webhook_event_id", event.ID,
				"error", err,
			)
		}
	}
}

// WebhookPayload is the body the provider signs and posts.
type WebhookPayload struct {
	EventID     string `json:"event_id"`
	OrderID     string `json:"order_id"`
	PayoutKey   string `json:"payout_key,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (p *WebhookProcessor) processEvent(ctx context.Context, event domain.WebhookEvent) error {
	var payload WebhookPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		p.logger.Error("malformed webhook payload", "webhook_event_id", event.ID, "error", err)
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed, err)
	}

	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		p.logger.Error("invalid order_id in webhook", "webhook_event_id", event.ID, "order_id", payload.OrderID)
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed, err)
	}

	err = p.dispatch(ctx, event, orderID, payload)
	switch {
	case err == nil:
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusDispatched, nil)
	case isPermanent(err):
		p.logger.Warn("webhook rejected",
			"webhook_event_id", event.ID,
			"event_type", event.EventType,
			"order_id", orderID,
			"error", err,
		)
		return p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed, err)
	case event.Attempts+1 >= webhookMaxAttempts:
		if uerr := p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusFailed, err); uerr != nil {
			return fmt.Errorf("processEvent: %w", uerr)
		}
		return fmt.Errorf("processEvent: giving up after %d attempts: %w", webhookMaxAttempts, err)
	default:
		if uerr := p.webhooks.UpdateStatus(ctx, event.ID, domain.WebhookEventStatusPending, err); uerr != nil {
			return fmt.Errorf("processEvent: %w", uerr)
		}
		return fmt.Errorf("processEvent: %w", err)
	}
}

func (p *WebhookProcessor) dispatch(ctx context.Context, event domain.WebhookEvent, orderID uuid.UUID, payload WebhookPayload) error {
	eventID := payload.EventID
	if eventID == "" {
		eventID = event.IdempotencyKey
	}
	conf := cashier.ProviderConfirmation{
		ProviderEventID: eventID,
		ProviderRef:     payload.ProviderRef,
		Currency:        domain.Currency(payload.Currency),
	}
	if payload.Amount != "" {
		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			return fmt.Errorf("amount %q: %w", payload.Amount, domain.ErrInvalidAmount)
		}
		conf.Amount = amount
	}

	var err error
	switch event.EventType {
	case domain.WebhookEventTypeDepositPending:
		_, err = p.cashier.MarkDepositPending(ctx, orderID, domain.SystemActor)
	case domain.WebhookEventTypeDepositCaptured:
		_, err = p.cashier.CaptureDeposit(ctx, orderID, conf, domain.SystemActor)
	case domain.WebhookEventTypeDepositFailed:
		_, err = p.cashier.FailDeposit(ctx, orderID, payload.Reason, domain.SystemActor)
	case domain.WebhookEventTypeDepositRefunded:
		_, err = p.cashier.RefundDeposit(ctx, orderID, conf, domain.SystemActor)
	case domain.WebhookEventTypeChargeback:
		_, err = p.cashier.Chargeback(ctx, orderID, conf, domain.SystemActor)
	case domain.WebhookEventTypePayoutPaid, domain.WebhookEventTypePayoutFailed:
		if payload.PayoutKey == "" {
			return fmt.Errorf("payout_key: %w", domain.ErrInvalidRequest)
		}
		_, err = p.cashier.SettlePayout(ctx, orderID, payload.PayoutKey, cashier.PayoutResult{
			Success:         event.EventType == domain.WebhookEventTypePayoutPaid,
			ProviderEventID: eventID,
			ProviderRef:     payload.ProviderRef,
			FailureReason:   payload.Reason,
		}, domain.SystemActor)
	default:
		return fmt.Errorf("event type %q: %w", event.EventType, domain.ErrInvalidRequest)
	}
	if err != nil {
		return err
	}

	p.logger.Info("webhook applied",
		"webhook_event_id", event.ID,
		"event_type", event.EventType,
		"order_id", orderID,
	)
	return nil
}

// isPermanent reports whether retrying the callback can never succeed.
func isPermanent(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidRequest,
		domain.ErrInvalidAmount,
		domain.ErrInvalidCurrency,
		domain.ErrIllegalTransition,
		domain.ErrOrderTypeMismatch,
		domain.ErrPlayerNotFound,
		domain.ErrReversalExceedsCapture,
		domain.ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
