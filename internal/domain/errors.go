package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrNegativeHeld            = errors.New("held balance would go negative")
	ErrPlayerNotFound          = errors.New("player not found")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrIllegalTransition       = errors.New("illegal transaction state transition")
	ErrOrderTypeMismatch       = errors.New("order type mismatch")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrIdempotencyConflict     = errors.New("idempotency key reused with different parameters")
	ErrPayoutInFlight          = errors.New("another payout attempt is pending")
	ErrChainIntegrity          = errors.New("audit chain integrity failure")
	ErrManifestInvalid         = errors.New("archive manifest verification failed")
	ErrAlreadyPurged           = errors.New("archive already purged")
	ErrRunInProgress           = errors.New("reconciliation run in progress")
	ErrReversalExceedsCapture  = errors.New("reversal exceeds captured amount")
)

const (
	CodePlayerNotFound    = "PLAYER_NOT_FOUND"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeNegativeHeld      = "NEGATIVE_HELD_BALANCE"
	CodeIllegalTransition = "ILLEGAL_TRANSACTION_STATE_TRANSITION"
)

// WalletInvariantError is fatal to the operation that raised it; the
// surrounding transaction must roll back.
type WalletInvariantError struct {
	Code      string
	TenantID  uuid.UUID
	PlayerID  uuid.UUID
	Currency  Currency
	Available decimal.Decimal
	Held      decimal.Decimal
}

func (e *WalletInvariantError) Error() string {
	if e.Code == CodePlayerNotFound {
		return fmt.Sprintf("wallet invariant %s: player %s", e.Code, e.PlayerID)
	}
	return fmt.Sprintf("wallet invariant %s: player %s %s available=%s held=%s",
		e.Code, e.PlayerID, e.Currency, e.Available.String(), e.Held.String())
}

func (e *WalletInvariantError) Unwrap() error {
	switch e.Code {
	case CodePlayerNotFound:
		return ErrPlayerNotFound
	case CodeInsufficientFunds:
		return ErrInsufficientFunds
	case CodeNegativeHeld:
		return ErrNegativeHeld
	default:
		return nil
	}
}

// IllegalTransitionError carries the rejected move.
type IllegalTransitionError struct {
	From   OrderState
	To     OrderState
	TxType OrderType
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s (%s)", CodeIllegalTransition, e.From, e.To, e.TxType)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// Code returns the stable error kind.
func (e *IllegalTransitionError) Code() string { return CodeIllegalTransition }
