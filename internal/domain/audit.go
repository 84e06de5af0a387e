package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenesisRowHash is the prev_row_hash of the first event in every chain.
var GenesisRowHash = strings.Repeat("0", 64)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailed  AuditStatus = "FAILED"
	AuditStatusDenied  AuditStatus = "DENIED"
)

// JSONMap is an opaque, schema-less JSON object attached to audit events.
type JSONMap map[string]any

// AuditInput is what callers hand to the audit trail. ChainID defaults to the
// tenant id when empty.
type AuditInput struct {
	ChainID      string
	ActorUserID  *uuid.UUID
	ActorRole    string
	TenantID     uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Result       string
	Status       AuditStatus
	Reason       *string
	ErrorCode    *string
	ErrorMessage *string
	Details      JSONMap
	Before       JSONMap
	After        JSONMap
	Diff         JSONMap
	Metadata     JSONMap
}

// AuditEvent is an immutable, hash-chained row. Details, Before, After, Diff
// and Metadata hold the exact JSON text that was stored.
type AuditEvent struct {
	ID           uuid.UUID
	ChainID      string
	Sequence     int64
	PrevRowHash  string
	RowHash      string
	ActorUserID  *uuid.UUID
	ActorRole    string
	TenantID     uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Result       string
	Status       AuditStatus
	Reason       *string
	ErrorCode    *string
	ErrorMessage *string
	Details      []byte
	Before       []byte
	After        []byte
	Diff         []byte
	Metadata     []byte
	Timestamp    time.Time
}

// ChainHead is the tail of an audit chain.
type ChainHead struct {
	ChainID      string
	LastSequence int64
	LastRowHash  string
	UpdatedAt    time.Time
}

// ArchiveManifest describes an exported, signed range of audit events.
type ArchiveManifest struct {
	ID           uuid.UUID
	ChainID      string
	FromSequence int64
	ToSequence   int64
	PrevRowHash  string
	LastRowHash  string
	RowCount     int64
	ObjectKey    string
	SHA256       string
	Signature    string
	CreatedAt    time.Time
	PurgedAt     *time.Time
	RestoredAt   *time.Time
}
