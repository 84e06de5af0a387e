package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/auth"
	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/reconciliation"
)

type reconEngine interface {
	CreateRun(ctx context.Context, req reconciliation.RunRequest) (*domain.ReconciliationRun, bool, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRun, error)
	Execute(ctx context.Context, runID uuid.UUID) (*domain.ReconciliationRun, error)
	ListFindings(ctx context.Context, filter repository.FindingFilter) ([]domain.ReconciliationFinding, error)
	ResolveFinding(ctx context.Context, id uuid.UUID, actor uuid.UUID) (*domain.ReconciliationFinding, error)
}

type ReconciliationHandler struct {
	engine reconEngine
}

func NewReconciliationHandler(engine reconEngine) *ReconciliationHandler {
	return &ReconciliationHandler{engine: engine}
}

func (h *ReconciliationHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req reconciliation.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.IdempotencyKey == nil {
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			req.IdempotencyKey = &key
		}
	}

	run, created, err := h.engine.CreateRun(r.Context(), req)
	if err != nil {
		logging.FromContext(r.Context()).Warn("reconciliation run creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/reconciliation/runs/%s", run.ID))
	RespondSuccess(w, status, toRunDTO(run))
}

func (h *ReconciliationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "runID")
	if !ok {
		return
	}
	run, err := h.engine.GetRun(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toRunDTO(run))
}

func (h *ReconciliationHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "runID")
	if !ok {
		return
	}
	run, err := h.engine.Execute(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("reconciliation run execution failed", "error", err, "run_id", id)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toRunDTO(run))
}

func (h *ReconciliationHandler) ListFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(r)
	filter := repository.FindingFilter{
		Provider:    q.Get("provider"),
		Status:      domain.FindingStatus(q.Get("status")),
		FindingType: domain.FindingType(q.Get("finding_type")),
		Limit:       limit,
		Offset:      offset,
	}
	if raw := q.Get("run_id"); raw != "" {
		runID, err := uuid.Parse(raw)
		if err != nil {
			RespondValidationError(w, []FieldError{{Field: "run_id", Message: "must be a valid UUID"}})
			return
		}
		filter.RunID = &runID
	}

	findings, err := h.engine.ListFindings(r.Context(), filter)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	out := make([]findingDTO, 0, len(findings))
	for i := range findings {
		out = append(out, toFindingDTO(&findings[i]))
	}
	RespondSuccess(w, http.StatusOK, out)
}

func (h *ReconciliationHandler) ResolveFinding(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "findingID")
	if !ok {
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	f, err := h.engine.ResolveFinding(r.Context(), id, userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toFindingDTO(f))
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return uuid.Nil, false
	}
	return id, true
}

type runDTO struct {
	ID             uuid.UUID  `json:"id"`
	Provider       string     `json:"provider"`
	WindowStart    time.Time  `json:"window_start"`
	WindowEnd      time.Time  `json:"window_end"`
	DryRun         bool       `json:"dry_run"`
	Status         string     `json:"status"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	FindingsCount  int        `json:"findings_count"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func toRunDTO(run *domain.ReconciliationRun) runDTO {
	return runDTO{
		ID:             run.ID,
		Provider:       run.Provider,
		WindowStart:    run.WindowStart,
		WindowEnd:      run.WindowEnd,
		DryRun:         run.DryRun,
		Status:         string(run.Status),
		IdempotencyKey: run.IdempotencyKey,
		FindingsCount:  run.FindingsCount,
		Error:          run.Error,
		CreatedAt:      run.CreatedAt,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
}

type findingDTO struct {
	ID              uuid.UUID       `json:"id"`
	RunID           *uuid.UUID      `json:"run_id,omitempty"`
	Provider        string          `json:"provider"`
	TenantID        *uuid.UUID      `json:"tenant_id,omitempty"`
	PlayerID        *uuid.UUID      `json:"player_id,omitempty"`
	TxID            *uuid.UUID      `json:"tx_id,omitempty"`
	ProviderEventID string          `json:"provider_event_id"`
	FindingType     string          `json:"finding_type"`
	Severity        string          `json:"severity"`
	Status          string          `json:"status"`
	Message         string          `json:"message"`
	Details         json.RawMessage `json:"details,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      *uuid.UUID      `json:"resolved_by,omitempty"`
}

func toFindingDTO(f *domain.ReconciliationFinding) findingDTO {
	return findingDTO{
		ID:              f.ID,
		RunID:           f.RunID,
		Provider:        f.Provider,
		TenantID:        f.TenantID,
		PlayerID:        f.PlayerID,
		TxID:            f.TxID,
		ProviderEventID: f.ProviderEventID,
		FindingType:     string(f.FindingType),
		Severity:        string(f.Severity),
		Status:          string(f.Status),
		Message:         f.Message,
		Details:         f.Details,
		CreatedAt:       f.CreatedAt,
		ResolvedAt:      f.ResolvedAt,
		ResolvedBy:      f.ResolvedBy,
	}
}
