package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletBalance is the materialized balance for one (tenant, player, currency).
type WalletBalance struct {
	TenantID  uuid.UUID
	PlayerID  uuid.UUID
	Currency  Currency
	Available decimal.Decimal
	Pending   decimal.Decimal
	UpdatedAt time.Time
}

func (w WalletBalance) Total() decimal.Decimal {
	return w.Available.Add(w.Pending)
}

// WalletDelta is the input of the single sanctioned balance mutation.
// AllowNegative must only be set by chargeback and refund callers.
type WalletDelta struct {
	TenantID  uuid.UUID `validate:"required"`
	PlayerID  uuid.UUID `validate:"required"`
	EventType string    `validate:"required,max=64"`
	Currency  Currency  `validate:"required,len=3"`

	TxID            *uuid.UUID
	EntryType       EntryType
	DeltaAvailable  decimal.Decimal
	DeltaHeld       decimal.Decimal
	IdempotencyKey  *string
	Provider        *string
	ProviderRef     *string
	ProviderEventID *string
	AllowNegative   bool
}
