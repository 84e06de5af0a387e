package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FindingType string

const (
	FindingProviderTotalDrift             FindingType = "PROVIDER_TOTAL_DRIFT"
	FindingLedgerMissingWithdrawPaid      FindingType = "LEDGER_MISSING_WITHDRAW_PAID"
	FindingLedgerDuplicateWithdrawPaid    FindingType = "LEDGER_DUPLICATE_WITHDRAW_PAID"
	FindingLedgerPresentButTxNotPaid      FindingType = "LEDGER_PRESENT_BUT_TX_NOT_PAID"
	FindingPayoutAttemptDuplicateProvider FindingType = "PAYOUT_ATTEMPT_DUPLICATE_PROVIDER_EVENT"
)

type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

type FindingStatus string

const (
	FindingStatusOpen     FindingStatus = "OPEN"
	FindingStatusResolved FindingStatus = "RESOLVED"
)

// ReconciliationFinding is keyed by (provider, provider_event_id, finding_type).
type ReconciliationFinding struct {
	ID              uuid.UUID
	RunID           *uuid.UUID
	Provider        string
	TenantID        *uuid.UUID
	PlayerID        *uuid.UUID
	TxID            *uuid.UUID
	ProviderEventID string
	FindingType     FindingType
	Severity        Severity
	Status          FindingStatus
	Message         string
	Details         json.RawMessage
	CreatedAt       time.Time
	ResolvedAt      *time.Time
	ResolvedBy      *uuid.UUID
}

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ReconciliationRun struct {
	ID             uuid.UUID
	Provider       string
	WindowStart    time.Time
	WindowEnd      time.Time
	DryRun         bool
	Status         RunStatus
	IdempotencyKey *string
	FindingsCount  int
	Error          *string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// ProviderReport is a provider's exported settlement totals for a window.
type ProviderReport struct {
	Provider    string
	WindowStart time.Time
	WindowEnd   time.Time
	Totals      map[Currency]decimal.Decimal
}
