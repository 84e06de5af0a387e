package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Role is not permitted to perform this action"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInsufficientFunds     = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrNegativeHeld          = &AppError{http.StatusUnprocessableEntity, "NEGATIVE_HELD_BALANCE", "Held balance would go negative"}
	ErrPlayerNotFound        = &AppError{http.StatusUnprocessableEntity, "PLAYER_NOT_FOUND", "Player not found"}
	ErrInvalidCurrency       = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrInvalidAmount         = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrIllegalTransition     = &AppError{http.StatusConflict, "ILLEGAL_TRANSACTION_STATE_TRANSITION", "Transaction cannot move to the requested state"}
	ErrOrderTypeMismatch     = &AppError{http.StatusConflict, "ORDER_TYPE_MISMATCH", "Order is not of the expected type"}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrPayoutInFlight        = &AppError{http.StatusConflict, "PAYOUT_IN_FLIGHT", "Another payout attempt is pending"}
	ErrRunInProgress         = &AppError{http.StatusConflict, "RUN_IN_PROGRESS", "Reconciliation run is already executing"}
	ErrReversalExceeds       = &AppError{http.StatusUnprocessableEntity, "REVERSAL_EXCEEDS_CAPTURE", "Refunds and chargebacks would exceed the captured amount"}
	ErrManifestInvalid       = &AppError{http.StatusUnprocessableEntity, "ARCHIVE_MANIFEST_INVALID", "Archive failed verification"}
	ErrAlreadyPurged         = &AppError{http.StatusConflict, "ARCHIVE_ALREADY_PURGED", "Archive range already purged"}
	ErrChainIntegrity        = &AppError{http.StatusConflict, "AUDIT_CHAIN_INTEGRITY", "Audit chain failed verification"}
	ErrInvalidSignature      = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}
)
