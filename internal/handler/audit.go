package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/auth"
	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/audit"
)

type chainReader interface {
	Head(ctx context.Context, chainID string) (*domain.ChainHead, error)
	Verify(ctx context.Context, chainID string) (*audit.VerifyReport, error)
}

type archiveManager interface {
	Archive(ctx context.Context, chainID string, cutoff time.Time, actor domain.Actor) (*domain.ArchiveManifest, error)
	Purge(ctx context.Context, manifestID uuid.UUID, actor domain.Actor) (*domain.ArchiveManifest, error)
	Restore(ctx context.Context, manifestID uuid.UUID, actor domain.Actor) (int, error)
}

type AuditHandler struct {
	chains   chainReader
	archives archiveManager
}

func NewAuditHandler(chains chainReader, archives archiveManager) *AuditHandler {
	return &AuditHandler{chains: chains, archives: archives}
}

type manifestDTO struct {
	ID           uuid.UUID  `json:"id"`
	ChainID      string     `json:"chain_id"`
	FromSequence int64      `json:"from_sequence"`
	ToSequence   int64      `json:"to_sequence"`
	PrevRowHash  string     `json:"prev_row_hash"`
	LastRowHash  string     `json:"last_row_hash"`
	RowCount     int64      `json:"row_count"`
	ObjectKey    string     `json:"object_key"`
	SHA256       string     `json:"sha256"`
	CreatedAt    time.Time  `json:"created_at"`
	PurgedAt     *time.Time `json:"purged_at,omitempty"`
	RestoredAt   *time.Time `json:"restored_at,omitempty"`
}

func toManifestDTO(m *domain.ArchiveManifest) manifestDTO {
	return manifestDTO{
		ID:           m.ID,
		ChainID:      m.ChainID,
		FromSequence: m.FromSequence,
		ToSequence:   m.ToSequence,
		PrevRowHash:  m.PrevRowHash,
		LastRowHash:  m.LastRowHash,
		RowCount:     m.RowCount,
		ObjectKey:    m.ObjectKey,
		SHA256:       m.SHA256,
		CreatedAt:    m.CreatedAt,
		PurgedAt:     m.PurgedAt,
		RestoredAt:   m.RestoredAt,
	}
}

func (h *AuditHandler) Head(w http.ResponseWriter, r *http.Request) {
	head, err := h.chains.Head(r.Context(), chi.URLParam(r, "chainID"))
	if err != nil {
		logging.FromContext(r.Context()).Warn("chain head lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"chain_id":      head.ChainID,
		"last_sequence": head.LastSequence,
		"last_row_hash": head.LastRowHash,
	})
}

// Verify always answers 200 with the report; a broken chain is reported in
// the body, not as an error status.
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.chains.Verify(r.Context(), chi.URLParam(r, "chainID"))
	if err != nil {
		logging.FromContext(r.Context()).Error("chain verification failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, report)
}

type archiveRequest struct {
	OlderThan     *time.Time `json:"older_than"`
	RetentionDays int        `json:"retention_days"`
}

func (h *AuditHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var cutoff time.Time
	switch {
	case req.OlderThan != nil:
		cutoff = *req.OlderThan
	case req.RetentionDays > 0:
		cutoff = time.Now().UTC().AddDate(0, 0, -req.RetentionDays)
	default:
		RespondValidationError(w, []FieldError{{Field: "older_than", Message: "older_than or retention_days required"}})
		return
	}

	m, err := h.archives.Archive(r.Context(), chi.URLParam(r, "chainID"), cutoff, auth.ActorFromContext(r.Context()))
	if err != nil {
		logging.FromContext(r.Context()).Error("audit archive failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	if m == nil {
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "nothing_to_archive"})
		return
	}
	RespondSuccess(w, http.StatusCreated, toManifestDTO(m))
}

func (h *AuditHandler) Purge(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "manifestID")
	if !ok {
		return
	}

	m, err := h.archives.Purge(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		logging.FromContext(r.Context()).Error("audit purge failed", "error", err, "manifest_id", id)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toManifestDTO(m))
}

func (h *AuditHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "manifestID")
	if !ok {
		return
	}

	restored, err := h.archives.Restore(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		logging.FromContext(r.Context()).Error("audit restore failed", "error", err, "manifest_id", id)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"manifest_id":   id,
		"rows_restored": restored,
	})
}
