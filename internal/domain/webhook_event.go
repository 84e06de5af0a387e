package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending    WebhookEventStatus = "pending"
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusDispatched WebhookEventStatus = "dispatched"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

type WebhookEventType string

const (
	WebhookEventTypeDepositPending  WebhookEventType = "deposit.pending"
	WebhookEventTypeDepositCaptured WebhookEventType = "deposit.captured"
	WebhookEventTypeDepositFailed   WebhookEventType = "deposit.failed"
	WebhookEventTypeDepositRefunded WebhookEventType = "deposit.refunded"
	WebhookEventTypeChargeback      WebhookEventType = "chargeback"
	WebhookEventTypePayoutPaid      WebhookEventType = "payout.paid"
	WebhookEventTypePayoutFailed    WebhookEventType = "payout.failed"
)

func (t WebhookEventType) IsValid() bool {
	switch t {
	case WebhookEventTypeDepositPending, WebhookEventTypeDepositCaptured, WebhookEventTypeDepositFailed,
		WebhookEventTypeDepositRefunded, WebhookEventTypeChargeback,
		WebhookEventTypePayoutPaid, WebhookEventTypePayoutFailed:
		return true
	default:
		return false
	}
}

// WebhookEvent is the inbox row for a signed provider callback. The
// provider's event id is the idempotency key.
type WebhookEvent struct {
	ID             uuid.UUID
	Provider       string
	IdempotencyKey string
	EventType      WebhookEventType
	Payload        json.RawMessage
	Status         WebhookEventStatus
	Attempts       int
	LastAttempt    *time.Time
	LastError      *string
	CreatedAt      time.Time
}
