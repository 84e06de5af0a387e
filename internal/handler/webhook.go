package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
)

type webhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
	ListFailed(ctx context.Context, limit, offset int) ([]domain.WebhookEvent, int, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

// WebhookHandler accepts signed provider callbacks into the webhook inbox.
// Applying them to orders happens later in the webhook processor.
type WebhookHandler struct {
	webhooks webhookEventRepository
	provider string
	secret   string
	validate *validator.Validate
}

func NewWebhookHandler(webhooks webhookEventRepository, provider, secret string) *WebhookHandler {
	v := newValidator()
	v.RegisterStructValidation(payoutKeyRule, webhookPayload{})
	return &WebhookHandler{webhooks: webhooks, provider: provider, secret: secret, validate: v}
}

type webhookPayload struct {
	EventID     string `json:"event_id" validate:"required,max=255"`
	Type        string `json:"type" validate:"required,webhook_event"`
	OrderID     string `json:"order_id" validate:"required,uuid"`
	PayoutKey   string `json:"payout_key,omitempty" validate:"max=255"`
	Amount      string `json:"amount,omitempty" validate:"omitempty,numeric"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	ProviderRef string `json:"provider_ref,omitempty" validate:"max=255"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// payoutKeyRule requires payout callbacks to name the attempt they settle.
func payoutKeyRule(sl validator.StructLevel) {
	p := sl.Current().Interface().(webhookPayload)
	t := domain.WebhookEventType(p.Type)
	if (t == domain.WebhookEventTypePayoutPaid || t == domain.WebhookEventTypePayoutFailed) && p.PayoutKey == "" {
		sl.ReportError(p.PayoutKey, "payout_key", "PayoutKey", "required_for_payout", "")
	}
}

func (h *WebhookHandler) ReceiveProviderWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if err := h.validate.Struct(payload); err != nil {
		RespondValidationError(w, validationFields(err))
		return
	}

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		Provider:       h.provider,
		IdempotencyKey: payload.EventID,
		EventType:      domain.WebhookEventType(payload.Type),
		Payload:        body,
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.webhooks.Create(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			log.Info("duplicate webhook received", "event_id", payload.EventID, "order_id", payload.OrderID)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store webhook event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("webhook event stored",
		"webhook_event_id", event.ID,
		"provider_event_id", payload.EventID,
		"order_id", payload.OrderID,
		"event_type", event.EventType,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookEventDTO struct {
	ID          uuid.UUID       `json:"id"`
	Provider    string          `json:"provider"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListFailed serves GET /webhooks/failed: callbacks the processor gave up on.
func (h *WebhookHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	events, total, err := h.webhooks.ListFailed(r.Context(), limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("listing failed webhooks", "error", err)
		RespondDomainError(w, err)
		return
	}

	out := make([]webhookEventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, webhookEventDTO{
			ID:          e.ID,
			Provider:    e.Provider,
			EventID:     e.IdempotencyKey,
			Type:        string(e.EventType),
			Status:      string(e.Status),
			Attempts:    e.Attempts,
			LastAttempt: e.LastAttempt,
			LastError:   e.LastError,
			Payload:     e.Payload,
			CreatedAt:   e.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"events": out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Retry serves POST /webhooks/{eventID}/retry, returning a failed callback
// to the inbox once the cause has been fixed.
func (h *WebhookHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "eventID")
	if !ok {
		return
	}
	if err := h.webhooks.Requeue(r.Context(), id); err != nil {
		RespondDomainError(w, err)
		return
	}

	logging.FromContext(r.Context()).Info("webhook requeued", "webhook_event_id", id)
	RespondSuccess(w, http.StatusAccepted, map[string]any{"id": id, "status": domain.WebhookEventStatusPending})
}
