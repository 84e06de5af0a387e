package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
)

type walletService interface {
	GetBalance(ctx context.Context, tenantID, playerID uuid.UUID, currency domain.Currency) (*domain.WalletBalance, error)
	Apply(ctx context.Context, d domain.WalletDelta) (bool, error)
}

type ledgerReader interface {
	GetByTxID(ctx context.Context, txID uuid.UUID) ([]domain.LedgerEntry, error)
	GetByProviderEventID(ctx context.Context, provider, providerEventID string) ([]domain.LedgerEntry, error)
	ListByPlayer(ctx context.Context, playerID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
}

type WalletHandler struct {
	balances walletService
	ledger   ledgerReader
}

func NewWalletHandler(balances walletService, ledger ledgerReader) *WalletHandler {
	return &WalletHandler{balances: balances, ledger: ledger}
}

type balanceDTO struct {
	TenantID  uuid.UUID       `json:"tenant_id"`
	PlayerID  uuid.UUID       `json:"player_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
	Total     decimal.Decimal `json:"total"`
}

type ledgerEntryDTO struct {
	ID              uuid.UUID       `json:"id"`
	TxID            *uuid.UUID      `json:"tx_id,omitempty"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	PlayerID        uuid.UUID       `json:"player_id"`
	Type            string          `json:"type"`
	Direction       string          `json:"direction"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty"`
	Provider        *string         `json:"provider,omitempty"`
	ProviderRef     *string         `json:"provider_ref,omitempty"`
	ProviderEventID *string         `json:"provider_event_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toLedgerEntryDTOs(entries []domain.LedgerEntry) []ledgerEntryDTO {
	out := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryDTO{
			ID:              e.ID,
			TxID:            e.TxID,
			TenantID:        e.TenantID,
			PlayerID:        e.PlayerID,
			Type:            string(e.Type),
			Direction:       string(e.Direction),
			Amount:          e.Amount,
			Currency:        string(e.Currency),
			Status:          e.Status,
			IdempotencyKey:  e.IdempotencyKey,
			Provider:        e.Provider,
			ProviderRef:     e.ProviderRef,
			ProviderEventID: e.ProviderEventID,
			CreatedAt:       e.CreatedAt,
		})
	}
	return out
}

// GetBalance serves GET /players/{playerID}/balances/{currency}?tenant_id=.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "tenant_id", Message: "must be a valid UUID"}})
		return
	}
	currency := domain.Currency(strings.ToUpper(chi.URLParam(r, "currency")))

	b, err := h.balances.GetBalance(r.Context(), tenantID, playerID, currency)
	if err != nil {
		logging.FromContext(r.Context()).Warn("balance lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, balanceDTO{
		TenantID:  b.TenantID,
		PlayerID:  b.PlayerID,
		Currency:  string(b.Currency),
		Available: b.Available,
		Pending:   b.Pending,
		Total:     b.Total(),
	})
}

// LookupLedger serves GET /ledger?tx_id= and GET /ledger?provider=&provider_event_id=.
func (h *WalletHandler) LookupLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		entries []domain.LedgerEntry
		err     error
	)
	switch {
	case q.Get("tx_id") != "":
		txID, perr := uuid.Parse(q.Get("tx_id"))
		if perr != nil {
			RespondValidationError(w, []FieldError{{Field: "tx_id", Message: "must be a valid UUID"}})
			return
		}
		entries, err = h.ledger.GetByTxID(r.Context(), txID)
	case q.Get("provider_event_id") != "":
		if q.Get("provider") == "" {
			RespondValidationError(w, []FieldError{{Field: "provider", Message: "required with provider_event_id"}})
			return
		}
		entries, err = h.ledger.GetByProviderEventID(r.Context(), q.Get("provider"), q.Get("provider_event_id"))
	default:
		RespondValidationError(w, []FieldError{{Field: "tx_id", Message: "tx_id or provider_event_id required"}})
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("ledger lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

func (h *WalletHandler) ListPlayerLedger(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}
	limit, offset := pagination(r)

	entries, total, err := h.ledger.ListByPlayer(r.Context(), playerID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Warn("ledger listing failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"entries": toLedgerEntryDTOs(entries),
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

type gameEventRequest struct {
	TenantID string `json:"tenant_id"`
	Type     string `json:"type"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Provider string `json:"provider"`
	EventID  string `json:"event_id"`
	RoundID  string `json:"round_id"`
}

// GameEvent serves POST /players/{playerID}/game-events for game provider
// bet and win callbacks. Bets debit available funds and fail on
// insufficient balance; wins credit them. Replays answer 200 with the
// current balance.
func (h *WalletHandler) GameEvent(w http.ResponseWriter, r *http.Request) {
	playerID, ok := uuidParam(w, r, "playerID")
	if !ok {
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	var req gameEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var fields []FieldError
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		fields = append(fields, FieldError{Field: "tenant_id", Message: "must be a valid UUID"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		fields = append(fields, FieldError{Field: "amount", Message: "must be a decimal string greater than 0"})
	}
	currency := domain.Currency(req.Currency)
	if !currency.IsValid() {
		fields = append(fields, FieldError{Field: "currency", Message: "must be a 3-letter uppercase ISO code"})
	}

	delta := domain.WalletDelta{
		TenantID:       tenantID,
		PlayerID:       playerID,
		Currency:       currency,
		IdempotencyKey: &key,
	}
	switch req.Type {
	case "bet":
		delta.EventType = domain.StatusBetPlaced
		delta.EntryType = domain.EntryTypeBet
		delta.DeltaAvailable = amount.Neg()
	case "win":
		delta.EventType = domain.StatusWinPaid
		delta.EntryType = domain.EntryTypeWin
		delta.DeltaAvailable = amount
	default:
		fields = append(fields, FieldError{Field: "type", Message: "must be bet or win"})
	}
	if (req.Provider == "") != (req.EventID == "") {
		fields = append(fields, FieldError{Field: "event_id", Message: "provider and event_id go together"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}
	if req.Provider != "" {
		delta.Provider = &req.Provider
		delta.ProviderEventID = &req.EventID
	}
	if req.RoundID != "" {
		delta.ProviderRef = &req.RoundID
	}

	ctx := logging.With(r.Context(), "player_id", playerID, "game_event", req.Type)
	applied, err := h.balances.Apply(ctx, delta)
	if err != nil {
		logging.FromContext(ctx).Warn("game event rejected", "error", err)
		RespondDomainError(w, err)
		return
	}

	b, err := h.balances.GetBalance(ctx, tenantID, playerID, currency)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	status := http.StatusOK
	if applied {
		status = http.StatusCreated
	}
	RespondSuccess(w, status, map[string]any{
		"applied": applied,
		"balance": balanceDTO{
			TenantID:  b.TenantID,
			PlayerID:  b.PlayerID,
			Currency:  string(b.Currency),
			Available: b.Available,
			Pending:   b.Pending,
			Total:     b.Total(),
		},
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
