package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/auth"
	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/cashier"
)

type cashierService interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListPayoutAttempts(ctx context.Context, orderID uuid.UUID) ([]domain.PayoutAttempt, error)
	RequestWithdrawal(ctx context.Context, req cashier.WithdrawalRequest, actor domain.Actor) (*domain.Order, bool, error)
	ApproveWithdrawal(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error)
	RejectWithdrawal(ctx context.Context, orderID uuid.UUID, reason string, actor domain.Actor) (*domain.Order, error)
	CancelWithdrawal(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*domain.Order, error)
	AttemptPayout(ctx context.Context, orderID uuid.UUID, key, outcomeHint string, actor domain.Actor) (*domain.Order, error)
	CreateDeposit(ctx context.Context, req cashier.DepositRequest, actor domain.Actor) (*domain.Order, bool, error)
}

type OrderHandler struct {
	cashier cashierService
}

func NewOrderHandler(c cashierService) *OrderHandler {
	return &OrderHandler{cashier: c}
}

type createOrderRequest struct {
	TenantID string `json:"tenant_id"`
	PlayerID string `json:"player_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type parsedOrderRequest struct {
	tenantID uuid.UUID
	playerID uuid.UUID
	amount   decimal.Decimal
	currency domain.Currency
}

func (r createOrderRequest) parse() (parsedOrderRequest, []FieldError) {
	var (
		out  parsedOrderRequest
		errs []FieldError
		err  error
	)

	if out.tenantID, err = uuid.Parse(r.TenantID); err != nil {
		errs = append(errs, FieldError{Field: "tenant_id", Message: "must be a valid UUID"})
	}
	if out.playerID, err = uuid.Parse(r.PlayerID); err != nil {
		errs = append(errs, FieldError{Field: "player_id", Message: "must be a valid UUID"})
	}

	if r.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	} else if out.amount, err = decimal.NewFromString(r.Amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a decimal string"})
	} else if !out.amount.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	out.currency = domain.Currency(r.Currency)
	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !out.currency.IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be a 3-letter uppercase ISO code"})
	}

	return out, errs
}

type orderDTO struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	PlayerID        uuid.UUID       `json:"player_id"`
	Type            string          `json:"type"`
	State           string          `json:"state"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Provider        *string         `json:"provider,omitempty"`
	ProviderEventID *string         `json:"provider_event_id,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toOrderDTO(o *domain.Order) orderDTO {
	return orderDTO{
		ID:              o.ID,
		TenantID:        o.TenantID,
		PlayerID:        o.PlayerID,
		Type:            string(o.Type),
		State:           string(o.State),
		Amount:          o.Amount,
		Currency:        string(o.Currency),
		IdempotencyKey:  o.IdempotencyKey,
		Provider:        o.Provider,
		ProviderEventID: o.ProviderEventID,
		FailureReason:   o.FailureReason,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type payoutAttemptDTO struct {
	ID              uuid.UUID `json:"id"`
	Provider        string    `json:"provider"`
	IdempotencyKey  string    `json:"idempotency_key"`
	Outcome         string    `json:"outcome"`
	ProviderEventID *string   `json:"provider_event_id,omitempty"`
	ProviderRef     *string   `json:"provider_ref,omitempty"`
	FailureReason   *string   `json:"failure_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (h *OrderHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	p, fields := req.parse()
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	o, created, err := h.cashier.RequestWithdrawal(r.Context(), cashier.WithdrawalRequest{
		TenantID:       p.tenantID,
		PlayerID:       p.playerID,
		Amount:         p.amount,
		Currency:       p.currency,
		IdempotencyKey: key,
	}, auth.ActorFromContext(r.Context()))
	if err != nil {
		logging.FromContext(r.Context()).Warn("withdrawal request failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s", o.ID))
	RespondSuccess(w, status, toOrderDTO(o))
}

func (h *OrderHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	p, fields := req.parse()
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	o, created, err := h.cashier.CreateDeposit(r.Context(), cashier.DepositRequest{
		TenantID:       p.tenantID,
		PlayerID:       p.playerID,
		Amount:         p.amount,
		Currency:       p.currency,
		IdempotencyKey: key,
	}, auth.ActorFromContext(r.Context()))
	if err != nil {
		logging.FromContext(r.Context()).Warn("deposit creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s", o.ID))
	RespondSuccess(w, status, toOrderDTO(o))
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}

	o, err := h.cashier.GetOrder(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("order lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	attempts, err := h.cashier.ListPayoutAttempts(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]payoutAttemptDTO, 0, len(attempts))
	for _, a := range attempts {
		dtos = append(dtos, payoutAttemptDTO{
			ID:              a.ID,
			Provider:        a.Provider,
			IdempotencyKey:  a.IdempotencyKey,
			Outcome:         string(a.Outcome),
			ProviderEventID: a.ProviderEventID,
			ProviderRef:     a.ProviderRef,
			FailureReason:   a.FailureReason,
			CreatedAt:       a.CreatedAt,
		})
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"order":           toOrderDTO(o),
		"payout_attempts": dtos,
	})
}

func (h *OrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}
	o, err := h.cashier.ApproveWithdrawal(r.Context(), id, auth.ActorFromContext(r.Context()))
	h.respondOrder(w, r, o, err, "withdrawal approval failed")
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.Reason == "" {
		RespondValidationError(w, []FieldError{{Field: "reason", Message: "required"}})
		return
	}

	o, err := h.cashier.RejectWithdrawal(r.Context(), id, req.Reason, auth.ActorFromContext(r.Context()))
	h.respondOrder(w, r, o, err, "withdrawal rejection failed")
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}
	o, err := h.cashier.CancelWithdrawal(r.Context(), id, auth.ActorFromContext(r.Context()))
	h.respondOrder(w, r, o, err, "withdrawal cancel failed")
}

// Payout triggers a provider payout. The Idempotency-Key header names the
// attempt; X-Mock-Outcome is forwarded to sandbox providers.
func (h *OrderHandler) Payout(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	o, err := h.cashier.AttemptPayout(r.Context(), id, key, r.Header.Get("X-Mock-Outcome"), auth.ActorFromContext(r.Context()))
	h.respondOrder(w, r, o, err, "payout attempt failed")
}

func (h *OrderHandler) respondOrder(w http.ResponseWriter, r *http.Request, o *domain.Order, err error, msg string) {
	if err != nil {
		logging.FromContext(r.Context()).Warn(msg, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}
