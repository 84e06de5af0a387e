package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PlayerStatus string

const (
	PlayerStatusActive    PlayerStatus = "active"
	PlayerStatusSuspended PlayerStatus = "suspended"
	PlayerStatusClosed    PlayerStatus = "closed"
)

// Player carries the denormalized balance mirror for the player's primary
// currency. BalanceAvailable and BalanceHeld always equal the matching
// WalletBalance fields once a transaction commits.
type Player struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	ExternalRef      *string
	Currency         Currency
	Status           PlayerStatus
	BalanceAvailable decimal.Decimal
	BalanceHeld      decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
