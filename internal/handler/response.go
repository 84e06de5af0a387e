package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

func RespondDomainError(w http.ResponseWriter, err error) {
	var appErr *AppError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		appErr = ErrInsufficientFunds
	case errors.Is(err, domain.ErrNegativeHeld):
		appErr = ErrNegativeHeld
	case errors.Is(err, domain.ErrPlayerNotFound):
		appErr = ErrPlayerNotFound
	case errors.Is(err, domain.ErrInvalidCurrency):
		appErr = ErrInvalidCurrency
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrIllegalTransition):
		appErr = ErrIllegalTransition
	case errors.Is(err, domain.ErrOrderTypeMismatch):
		appErr = ErrOrderTypeMismatch
	case errors.Is(err, domain.ErrIdempotencyConflict), errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		appErr = ErrIdempotencyConflict
	case errors.Is(err, domain.ErrPayoutInFlight):
		appErr = ErrPayoutInFlight
	case errors.Is(err, domain.ErrRunInProgress):
		appErr = ErrRunInProgress
	case errors.Is(err, domain.ErrReversalExceedsCapture):
		appErr = ErrReversalExceeds
	case errors.Is(err, domain.ErrManifestInvalid):
		appErr = ErrManifestInvalid
	case errors.Is(err, domain.ErrAlreadyPurged):
		appErr = ErrAlreadyPurged
	case errors.Is(err, domain.ErrChainIntegrity):
		appErr = ErrChainIntegrity
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	default:
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, errorDetails(err))
}

// errorDetails exposes the structured part of wallet and state machine
// errors so clients can tell which balance or move was rejected.
func errorDetails(err error) any {
	var inv *domain.WalletInvariantError
	if errors.As(err, &inv) {
		if inv.Code == domain.CodePlayerNotFound {
			return map[string]string{"player_id": inv.PlayerID.String()}
		}
		return map[string]string{
			"player_id": inv.PlayerID.String(),
			"currency":  string(inv.Currency),
			"available": inv.Available.String(),
			"held":      inv.Held.String(),
		}
	}
	var ite *domain.IllegalTransitionError
	if errors.As(err, &ite) {
		return map[string]string{
			"from":    string(ite.From),
			"to":      string(ite.To),
			"tx_type": string(ite.TxType),
		}
	}
	return nil
}
