package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeDeposit    OrderType = "deposit"
	OrderTypeWithdrawal OrderType = "withdrawal"
)

type OrderState string

const (
	OrderStateCreated         OrderState = "created"
	OrderStatePendingProvider OrderState = "pending_provider"
	OrderStateCompleted       OrderState = "completed"
	OrderStateFailed          OrderState = "failed"

	OrderStateRequested     OrderState = "requested"
	OrderStateApproved      OrderState = "approved"
	OrderStateRejected      OrderState = "rejected"
	OrderStateCanceled      OrderState = "canceled"
	OrderStatePayoutPending OrderState = "payout_pending"
	OrderStatePayoutFailed  OrderState = "payout_failed"
	OrderStatePaid          OrderState = "paid"
)

// Order is a user-facing deposit or withdrawal request. It is distinct from
// the ledger postings it causes and is mutated only through state transitions.
type Order struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	PlayerID        uuid.UUID
	Type            OrderType
	Amount          decimal.Decimal
	Currency        Currency
	State           OrderState
	IdempotencyKey  string
	Provider        *string
	ProviderEventID *string
	FailureReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PayoutOutcome string

const (
	PayoutOutcomePending PayoutOutcome = "pending"
	PayoutOutcomeSuccess PayoutOutcome = "success"
	PayoutOutcomeFailed  PayoutOutcome = "failed"
)

// PayoutAttempt records one call to the payout provider for a withdrawal.
type PayoutAttempt struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	Provider        string
	ProviderEventID *string
	ProviderRef     *string
	IdempotencyKey  string
	Outcome         PayoutOutcome
	FailureReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
