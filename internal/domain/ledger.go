package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeDeposit    EntryType = "deposit"
	EntryTypeWithdrawal EntryType = "withdrawal"
	EntryTypeBet        EntryType = "bet"
	EntryTypeWin        EntryType = "win"
	EntryTypeAdjustment EntryType = "adjustment"
	EntryTypeRake       EntryType = "rake"
	EntryTypeChargeback EntryType = "chargeback"
	EntryTypeRefund     EntryType = "refund"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Event statuses written by the cashier and webhook flows.
const (
	StatusDepositCaptured   = "deposit_captured"
	StatusDepositRefunded   = "deposit_refunded"
	StatusChargeback        = "chargeback"
	StatusWithdrawRequested = "withdraw_requested"
	StatusWithdrawRejected  = "withdraw_rejected"
	StatusWithdrawCanceled  = "withdraw_canceled"
	StatusWithdrawPaid      = "withdraw_paid"
	StatusBetPlaced         = "bet_placed"
	StatusWinPaid           = "win_paid"
	StatusManualAdjustment  = "manual_adjustment"
)

// SettlementStatuses are the ledger statuses that move money through a
// provider and therefore appear in provider settlement reports.
var SettlementStatuses = []string{
	StatusDepositCaptured,
	StatusWithdrawPaid,
	StatusDepositRefunded,
	StatusChargeback,
}

// LedgerEntry is one immutable money movement. Rows are never updated or
// deleted after insert.
type LedgerEntry struct {
	ID              uuid.UUID
	TxID            *uuid.UUID
	TenantID        uuid.UUID
	PlayerID        uuid.UUID
	Type            EntryType
	Direction       Direction
	Amount          decimal.Decimal
	Currency        Currency
	Status          string
	IdempotencyKey  *string
	Provider        *string
	ProviderRef     *string
	ProviderEventID *string
	CreatedAt       time.Time
}

// EntryTypeForStatus maps a free-form event status onto the coarse entry type.
func EntryTypeForStatus(status string) EntryType {
	s := strings.ToLower(status)
	switch {
	case s == StatusChargeback:
		return EntryTypeChargeback
	case s == StatusDepositRefunded, strings.HasSuffix(s, "_refunded"):
		return EntryTypeRefund
	case strings.HasPrefix(s, "deposit"):
		return EntryTypeDeposit
	case strings.HasPrefix(s, "withdraw"):
		return EntryTypeWithdrawal
	case strings.HasPrefix(s, "bet"):
		return EntryTypeBet
	case strings.HasPrefix(s, "win"):
		return EntryTypeWin
	case strings.HasPrefix(s, "rake"):
		return EntryTypeRake
	default:
		return EntryTypeAdjustment
	}
}
