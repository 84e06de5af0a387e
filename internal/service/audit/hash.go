package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

// timestampLayout is fixed at microsecond precision, which is what Postgres
// stores, so a row read back hashes to the same value it was written with.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// CanonicalPayload is the byte string covered by an event's row hash. Keys
// are emitted in sorted order and details are re-encoded from the stored
// JSON text.
func CanonicalPayload(e *domain.AuditEvent) ([]byte, error) {
	details, err := decodeStored(e.Details)
	if err != nil {
		return nil, fmt.Errorf("CanonicalPayload: details: %w", err)
	}

	var actor any
	if e.ActorUserID != nil {
		actor = e.ActorUserID.String()
	}
	var reason any
	if e.Reason != nil {
		reason = *e.Reason
	}

	// encoding/json sorts map keys, which gives the canonical ordering.
	payload := map[string]any{
		"tenant_id":     e.TenantID.String(),
		"actor_user_id": actor,
		"action":        e.Action,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"timestamp":     e.Timestamp.UTC().Format(timestampLayout),
		"reason":        reason,
		"status":        string(e.Status),
		"details":       details,
		"sequence":      e.Sequence,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("CanonicalPayload: %w", err)
	}
	return b, nil
}

// RowHash is hex(sha256(prevRowHash || payload)).
func RowHash(prevRowHash string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevRowHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeRowHash recomputes the hash of e from its stored fields.
func ComputeRowHash(e *domain.AuditEvent) (string, error) {
	payload, err := CanonicalPayload(e)
	if err != nil {
		return "", err
	}
	return RowHash(e.PrevRowHash, payload), nil
}

func decodeStored(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeJSON(m domain.JSONMap) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func eventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
