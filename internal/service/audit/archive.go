package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
)

const maxArchiveRows = 50000

type archiveEvents interface {
	ListRange(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error)
	LastSequenceBefore(ctx context.Context, chainID string, cutoff time.Time) (int64, error)
	DeleteRange(ctx context.Context, tx *sql.Tx, chainID string, fromSeq, toSeq int64) (int64, error)
	InsertRestored(ctx context.Context, tx *sql.Tx, e *domain.AuditEvent) (bool, error)
}

type manifestStore interface {
	Create(ctx context.Context, m *domain.ArchiveManifest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ArchiveManifest, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.ArchiveManifest, error)
	Latest(ctx context.Context, chainID string) (*domain.ArchiveManifest, error)
	ListUnpurged(ctx context.Context, chainID string) ([]domain.ArchiveManifest, error)
	MarkPurged(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	MarkRestored(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type eventLogger interface {
	LogEvent(ctx context.Context, tx *sql.Tx, in domain.AuditInput) (*domain.AuditEvent, error)
	Log(ctx context.Context, in domain.AuditInput) (*domain.AuditEvent, error)
}

// Archiver exports old chain segments to an ObjectStore, and purges or
// restores them against a signed manifest.
type Archiver struct {
	events    archiveEvents
	manifests manifestStore
	trail     eventLogger
	store     ObjectStore
	hmacKey   []byte
	db        *sql.DB
	metrics   *metrics.Metrics
}

func NewArchiver(events archiveEvents, manifests manifestStore, trail eventLogger, store ObjectStore, hmacKey []byte, db *sql.DB, m *metrics.Metrics) *Archiver {
	return &Archiver{
		events:    events,
		manifests: manifests,
		trail:     trail,
		store:     store,
		hmacKey:   hmacKey,
		db:        db,
		metrics:   m,
	}
}

// archiveRecord is one line of an archive object. JSON columns are carried
// as their stored text so a restored row is byte-identical.
type archiveRecord struct {
	ID           uuid.UUID          `json:"id"`
	ChainID      string             `json:"chain_id"`
	Sequence     int64              `json:"sequence"`
	PrevRowHash  string             `json:"prev_row_hash"`
	RowHash      string             `json:"row_hash"`
	ActorUserID  *uuid.UUID         `json:"actor_user_id,omitempty"`
	ActorRole    string             `json:"actor_role"`
	TenantID     uuid.UUID          `json:"tenant_id"`
	Action       string             `json:"action"`
	ResourceType string             `json:"resource_type"`
	ResourceID   string             `json:"resource_id"`
	Result       string             `json:"result"`
	Status       domain.AuditStatus `json:"status"`
	Reason       *string            `json:"reason,omitempty"`
	ErrorCode    *string            `json:"error_code,omitempty"`
	ErrorMessage *string            `json:"error_message,omitempty"`
	Details      *string            `json:"details,omitempty"`
	Before       *string            `json:"before,omitempty"`
	After        *string            `json:"after,omitempty"`
	Diff         *string            `json:"diff,omitempty"`
	Metadata     *string            `json:"metadata,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Archive exports the chain's rows created before cutoff that are not yet
// covered by a manifest. It returns nil when there is nothing to export.
func (a *Archiver) Archive(ctx context.Context, chainID string, cutoff time.Time, actor domain.Actor) (*domain.ArchiveManifest, error) {
	from := int64(1)
	prevHash := domain.GenesisRowHash

	last, err := a.manifests.Latest(ctx, chainID)
	switch {
	case err == nil:
		from = last.ToSequence + 1
		prevHash = last.LastRowHash
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("Archive: %w", err)
	}

	to, err := a.events.LastSequenceBefore(ctx, chainID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("Archive: %w", err)
	}
	if to < from {
		return nil, nil
	}
	if to-from+1 > maxArchiveRows {
		to = from + maxArchiveRows - 1
	}

	rows, err := a.events.ListRange(ctx, chainID, from, to, int(to-from+1))
	if err != nil {
		return nil, fmt.Errorf("Archive: %w", err)
	}
	if err := checkSegment(rows, from, to, prevHash); err != nil {
		return nil, fmt.Errorf("Archive: %w", err)
	}

	data, err := encodeSegment(rows)
	if err != nil {
		return nil, fmt.Errorf("Archive: %w", err)
	}
	sum := sha256.Sum256(data)

	m := &domain.ArchiveManifest{
		ID:           uuid.New(),
		ChainID:      chainID,
		FromSequence: from,
		ToSequence:   to,
		PrevRowHash:  prevHash,
		LastRowHash:  rows[len(rows)-1].RowHash,
		RowCount:     int64(len(rows)),
		ObjectKey:    objectKey(chainID, from, to),
		SHA256:       hex.EncodeToString(sum[:]),
		CreatedAt:    time.Now().UTC(),
	}
	m.Signature = a.sign(m)

	if err := a.store.Put(ctx, m.ObjectKey, data); err != nil {
		return nil, fmt.Errorf("Archive: store: %w", err)
	}
	if err := a.manifests.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("Archive: %w", err)
	}

	if _, err := a.trail.Log(ctx, a.auditInput(actor, m, "audit.archive", nil)); err != nil {
		return nil, fmt.Errorf("Archive: %w", err)
	}

	a.metrics.ArchivedRows.WithLabelValues("archived").Add(float64(m.RowCount))
	logging.FromContext(ctx).Info("audit segment archived",
		"chain_id", chainID,
		"manifest_id", m.ID,
		"from_sequence", from,
		"to_sequence", to,
		"object_key", m.ObjectKey,
	)
	return m, nil
}

// Purge deletes exactly the manifest's range after checking that the
// archived object is intact and matches the live rows.
func (a *Archiver) Purge(ctx context.Context, manifestID uuid.UUID, actor domain.Actor) (*domain.ArchiveManifest, error) {
	m, err := a.manifests.GetByID(ctx, manifestID)
	if err != nil {
		return nil, fmt.Errorf("Purge: %w", err)
	}
	if isPurged(m) {
		return nil, fmt.Errorf("Purge: %w", domain.ErrAlreadyPurged)
	}

	archived, err := a.loadSegment(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("Purge: %w", err)
	}
	live, err := a.events.ListRange(ctx, m.ChainID, m.FromSequence, m.ToSequence, int(m.RowCount)+1)
	if err != nil {
		return nil, fmt.Errorf("Purge: %w", err)
	}
	if len(live) != len(archived) {
		return nil, fmt.Errorf("Purge: live rows %d, archived %d: %w", len(live), len(archived), domain.ErrManifestInvalid)
	}
	for i := range live {
		if live[i].Sequence != archived[i].Sequence || live[i].RowHash != archived[i].RowHash {
			return nil, fmt.Errorf("Purge: sequence %d differs from archive: %w", live[i].Sequence, domain.ErrManifestInvalid)
		}
	}

	err = repository.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		locked, err := a.manifests.GetForUpdate(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		if isPurged(locked) {
			return domain.ErrAlreadyPurged
		}

		deleted, err := a.events.DeleteRange(ctx, tx, m.ChainID, m.FromSequence, m.ToSequence)
		if err != nil {
			return err
		}
		if deleted != m.RowCount {
			return fmt.Errorf("deleted %d rows, manifest covers %d: %w", deleted, m.RowCount, domain.ErrManifestInvalid)
		}
		if err := a.manifests.MarkPurged(ctx, tx, m.ID); err != nil {
			return err
		}

		_, err = a.trail.LogEvent(ctx, tx, a.auditInput(actor, m, "audit.purge", domain.JSONMap{"deleted": deleted}))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Purge: %w", err)
	}

	a.metrics.ArchivedRows.WithLabelValues("purged").Add(float64(m.RowCount))
	logging.FromContext(ctx).Info("audit segment purged",
		"chain_id", m.ChainID,
		"manifest_id", m.ID,
		"rows", m.RowCount,
	)
	return a.manifests.GetByID(ctx, m.ID)
}

// Restore re-inserts an archived range. Rows already present are skipped, so
// restoring twice is harmless. It returns the number of rows written.
func (a *Archiver) Restore(ctx context.Context, manifestID uuid.UUID, actor domain.Actor) (int, error) {
	m, err := a.manifests.GetByID(ctx, manifestID)
	if err != nil {
		return 0, fmt.Errorf("Restore: %w", err)
	}

	archived, err := a.loadSegment(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("Restore: %w", err)
	}

	restored := 0
	err = repository.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		locked, err := a.manifests.GetForUpdate(ctx, tx, m.ID)
		if err != nil {
			return err
		}

		for i := range archived {
			inserted, err := a.events.InsertRestored(ctx, tx, &archived[i])
			if err != nil {
				return err
			}
			if inserted {
				restored++
			}
		}

		if isPurged(locked) {
			if err := a.manifests.MarkRestored(ctx, tx, m.ID); err != nil {
				return err
			}
		}

		_, err = a.trail.LogEvent(ctx, tx, a.auditInput(actor, m, "audit.restore", domain.JSONMap{"restored": restored}))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("Restore: %w", err)
	}

	a.metrics.ArchivedRows.WithLabelValues("restored").Add(float64(restored))
	logging.FromContext(ctx).Info("audit segment restored",
		"chain_id", m.ChainID,
		"manifest_id", m.ID,
		"rows", restored,
	)
	return restored, nil
}

// loadSegment fetches the object for m and checks signature, digest, row
// count and hash links before returning its rows.
func (a *Archiver) loadSegment(ctx context.Context, m *domain.ArchiveManifest) ([]domain.AuditEvent, error) {
	sig, err := hex.DecodeString(m.Signature)
	if err != nil || !hmac.Equal(sig, a.mac(m)) {
		return nil, fmt.Errorf("bad signature on manifest %s: %w", m.ID, domain.ErrManifestInvalid)
	}

	data, err := a.store.Get(ctx, m.ObjectKey)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != m.SHA256 {
		return nil, fmt.Errorf("digest mismatch on %s: %w", m.ObjectKey, domain.ErrManifestInvalid)
	}

	rows, err := decodeSegment(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.ObjectKey, err)
	}
	if int64(len(rows)) != m.RowCount {
		return nil, fmt.Errorf("object holds %d rows, manifest %d: %w", len(rows), m.RowCount, domain.ErrManifestInvalid)
	}
	if err := checkSegment(rows, m.FromSequence, m.ToSequence, m.PrevRowHash); err != nil {
		return nil, err
	}
	if rows[len(rows)-1].RowHash != m.LastRowHash {
		return nil, fmt.Errorf("last row hash differs from manifest: %w", domain.ErrManifestInvalid)
	}
	return rows, nil
}

// checkSegment requires rows to be exactly from..to, linked from prevHash,
// with every row hash reproducible.
func checkSegment(rows []domain.AuditEvent, from, to int64, prevHash string) error {
	if int64(len(rows)) != to-from+1 {
		return fmt.Errorf("segment %d..%d has %d rows: %w", from, to, len(rows), domain.ErrChainIntegrity)
	}
	expectedPrev := prevHash
	for i := range rows {
		e := &rows[i]
		if e.Sequence != from+int64(i) {
			return fmt.Errorf("sequence %d out of place: %w", e.Sequence, domain.ErrChainIntegrity)
		}
		if e.PrevRowHash != expectedPrev {
			return fmt.Errorf("sequence %d prev hash mismatch: %w", e.Sequence, domain.ErrChainIntegrity)
		}
		computed, err := ComputeRowHash(e)
		if err != nil {
			return err
		}
		if computed != e.RowHash {
			return fmt.Errorf("sequence %d row hash mismatch: %w", e.Sequence, domain.ErrChainIntegrity)
		}
		expectedPrev = e.RowHash
	}
	return nil
}

func (a *Archiver) sign(m *domain.ArchiveManifest) string {
	return hex.EncodeToString(a.mac(m))
}

func (a *Archiver) mac(m *domain.ArchiveManifest) []byte {
	h := hmac.New(sha256.New, a.hmacKey)
	h.Write([]byte(manifestCanonical(m)))
	return h.Sum(nil)
}

func manifestCanonical(m *domain.ArchiveManifest) string {
	return strings.Join([]string{
		m.ID.String(),
		m.ChainID,
		strconv.FormatInt(m.FromSequence, 10),
		strconv.FormatInt(m.ToSequence, 10),
		m.PrevRowHash,
		m.LastRowHash,
		strconv.FormatInt(m.RowCount, 10),
		m.ObjectKey,
		m.SHA256,
	}, "\n")
}

func (a *Archiver) auditInput(actor domain.Actor, m *domain.ArchiveManifest, action string, extra domain.JSONMap) domain.AuditInput {
	details := domain.JSONMap{
		"manifest_id":   m.ID.String(),
		"from_sequence": m.FromSequence,
		"to_sequence":   m.ToSequence,
		"row_count":     m.RowCount,
		"object_key":    m.ObjectKey,
	}
	for k, v := range extra {
		details[k] = v
	}

	tenantID, _ := uuid.Parse(m.ChainID)
	return domain.AuditInput{
		ChainID:      m.ChainID,
		ActorUserID:  actor.UserID,
		ActorRole:    actor.Role,
		TenantID:     tenantID,
		Action:       action,
		ResourceType: "audit_archive",
		ResourceID:   m.ID.String(),
		Result:       "ok",
		Details:      details,
	}
}

func isPurged(m *domain.ArchiveManifest) bool {
	return m.PurgedAt != nil && m.RestoredAt == nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func objectKey(chainID string, from, to int64) string {
	return fmt.Sprintf("audit/%s/%020d-%020d.jsonl.gz", unsafeKeyChars.ReplaceAllString(chainID, "_"), from, to)
}

func encodeSegment(rows []domain.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for i := range rows {
		if err := enc.Encode(toRecord(&rows[i])); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSegment(data []byte) ([]domain.AuditEvent, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	var rows []domain.AuditEvent
	dec := json.NewDecoder(zr)
	for {
		var rec archiveRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		rows = append(rows, fromRecord(&rec))
	}
	return rows, nil
}

func toRecord(e *domain.AuditEvent) archiveRecord {
	return archiveRecord{
		ID:           e.ID,
		ChainID:      e.ChainID,
		Sequence:     e.Sequence,
		PrevRowHash:  e.PrevRowHash,
		RowHash:      e.RowHash,
		ActorUserID:  e.ActorUserID,
		ActorRole:    e.ActorRole,
		TenantID:     e.TenantID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Result:       e.Result,
		Status:       e.Status,
		Reason:       e.Reason,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		Details:      textPtr(e.Details),
		Before:       textPtr(e.Before),
		After:        textPtr(e.After),
		Diff:         textPtr(e.Diff),
		Metadata:     textPtr(e.Metadata),
		Timestamp:    e.Timestamp.UTC(),
	}
}

func fromRecord(r *archiveRecord) domain.AuditEvent {
	return domain.AuditEvent{
		ID:           r.ID,
		ChainID:      r.ChainID,
		Sequence:     r.Sequence,
		PrevRowHash:  r.PrevRowHash,
		RowHash:      r.RowHash,
		ActorUserID:  r.ActorUserID,
		ActorRole:    r.ActorRole,
		TenantID:     r.TenantID,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Result:       r.Result,
		Status:       r.Status,
		Reason:       r.Reason,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		Details:      textBytes(r.Details),
		Before:       textBytes(r.Before),
		After:        textBytes(r.After),
		Diff:         textBytes(r.Diff),
		Metadata:     textBytes(r.Metadata),
		Timestamp:    r.Timestamp.UTC(),
	}
}

func textPtr(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func textBytes(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}
