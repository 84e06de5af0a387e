package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const testWebhookSecret = "test-secret-key"

type mockWebhookRepo struct {
	created  *domain.WebhookEvent
	err      error
	failed   []domain.WebhookEvent
	requeued []uuid.UUID
}

func (m *mockWebhookRepo) Create(_ context.Context, event *domain.WebhookEvent) error {
	m.created = event
	return m.err
}

func (m *mockWebhookRepo) ListFailed(_ context.Context, limit, offset int) ([]domain.WebhookEvent, int, error) {
	return m.failed, len(m.failed), m.err
}

func (m *mockWebhookRepo) Requeue(_ context.Context, id uuid.UUID) error {
	for _, e := range m.failed {
		if e.ID == id {
			m.requeued = append(m.requeued, id)
			return nil
		}
	}
	return fmt.Errorf("Requeue: %w", domain.ErrNotFound)
}

func signPayload(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func validWebhookBody() string {
	p := webhookPayload{
		EventID:   "psp-" + uuid.NewString(),
		Type:      string(domain.WebhookEventTypeDepositCaptured),
		OrderID:   uuid.NewString(),
		Timestamp: "2026-02-20T00:00:00Z",
	}
	b, _ := json.Marshal(p)
	return string(b)
}

func TestVerifyHMAC(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		signature string
		secret    string
		want      bool
	}{
		{
			name:      "valid signature",
			body:      `{"event_id":"abc"}`,
			signature: signPayload(`{"event_id":"abc"}`, testWebhookSecret),
			secret:    testWebhookSecret,
			want:      true,
		},
		{
			name:      "wrong signature",
			body:      `{"event_id":"abc"}`,
			signature: "deadbeef",
			secret:    testWebhookSecret,
			want:      false,
		},
		{
			name:      "empty signature",
			body:      `{"event_id":"abc"}`,
			signature: "",
			secret:    testWebhookSecret,
			want:      false,
		},
		{
			name:      "wrong secret",
			body:      `{"event_id":"abc"}`,
			signature: signPayload(`{"event_id":"abc"}`, "other-secret"),
			secret:    testWebhookSecret,
			want:      false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := verifyHMAC([]byte(tc.body), tc.signature, tc.secret)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReceiveProviderWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupSig   func(body string) string
		repoErr    error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid signed webhook",
			body:       validWebhookBody(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing signature header",
			body:       validWebhookBody(),
			setupSig:   nil,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "invalid HMAC signature",
			body:       validWebhookBody(),
			setupSig:   func(_ string) string { return "deadbeefdeadbeef" },
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "empty body",
			body:       "",
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "invalid JSON body",
			body:       "not-json",
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "missing required fields",
			body: func() string {
				b, _ := json.Marshal(map[string]string{"type": "deposit.captured"})
				return string(b)
			}(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "unknown event type",
			body: func() string {
				b, _ := json.Marshal(webhookPayload{EventID: "e-1", Type: "payment.completed", OrderID: uuid.NewString()})
				return string(b)
			}(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "payout event without payout key",
			body: func() string {
				b, _ := json.Marshal(webhookPayload{EventID: "e-2", Type: "payout.paid", OrderID: uuid.NewString()})
				return string(b)
			}(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "lowercase currency",
			body: func() string {
				b, _ := json.Marshal(webhookPayload{EventID: "e-3", Type: "deposit.captured", OrderID: uuid.NewString(), Currency: "usd"})
				return string(b)
			}(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "malformed timestamp",
			body: func() string {
				b, _ := json.Marshal(webhookPayload{EventID: "e-4", Type: "deposit.pending", OrderID: uuid.NewString(), Timestamp: "yesterday"})
				return string(b)
			}(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "duplicate webhook returns OK",
			body:       validWebhookBody(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			repoErr:    fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey),
			wantStatus: http.StatusOK,
		},
		{
			name:       "repository error returns 500",
			body:       validWebhookBody(),
			setupSig:   func(body string) string { return signPayload(body, testWebhookSecret) },
			repoErr:    fmt.Errorf("connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockWebhookRepo{err: tc.repoErr}
			h := NewWebhookHandler(repo, "mockpay", testWebhookSecret)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(tc.body))
			if tc.setupSig != nil {
				req.Header.Set("X-Webhook-Signature", tc.setupSig(tc.body))
			}
			rr := httptest.NewRecorder()

			h.ReceiveProviderWebhook(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

			if tc.wantCode == "" {
				assert.True(t, resp.Success)
			} else {
				assert.False(t, resp.Success)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestReceiveProviderWebhook_StoresCorrectEvent(t *testing.T) {
	repo := &mockWebhookRepo{}
	h := NewWebhookHandler(repo, "mockpay", testWebhookSecret)

	body := validWebhookBody()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signPayload(body, testWebhookSecret))
	rr := httptest.NewRecorder()

	h.ReceiveProviderWebhook(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, domain.WebhookEventStatusPending, repo.created.Status)
	assert.Equal(t, domain.WebhookEventTypeDepositCaptured, repo.created.EventType)
	assert.Equal(t, "mockpay", repo.created.Provider)
	assert.NotEqual(t, uuid.Nil, repo.created.ID)
	assert.Equal(t, json.RawMessage(body), repo.created.Payload)
}

func TestReceiveProviderWebhook_FieldErrorsUseJSONNames(t *testing.T) {
	h := NewWebhookHandler(&mockWebhookRepo{}, "mockpay", testWebhookSecret)

	b, _ := json.Marshal(webhookPayload{EventID: "e-5", Type: "payout.failed", OrderID: "not-a-uuid", Amount: "ten"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(string(b)))
	req.Header.Set("X-Webhook-Signature", signPayload(string(b), testWebhookSecret))
	rr := httptest.NewRecorder()

	h.ReceiveProviderWebhook(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp struct {
		Error struct {
			Details []FieldError `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []FieldError{
		{Field: "order_id", Message: "must be a valid UUID"},
		{Field: "amount", Message: "must be a decimal string"},
		{Field: "payout_key", Message: "required for payout events"},
	}, resp.Error.Details)
}

func TestWebhookDeadLetters(t *testing.T) {
	cause := "processEvent: giving up after 5 attempts: connection refused"
	failed := domain.WebhookEvent{
		ID:             uuid.New(),
		Provider:       "mockpay",
		IdempotencyKey: "psp-9",
		EventType:      domain.WebhookEventTypeChargeback,
		Payload:        json.RawMessage(`{"order_id":"x"}`),
		Status:         domain.WebhookEventStatusFailed,
		Attempts:       5,
		LastError:      &cause,
	}
	repo := &mockWebhookRepo{failed: []domain.WebhookEvent{failed}}
	h := NewWebhookHandler(repo, "mockpay", testWebhookSecret)

	r := chi.NewRouter()
	r.Get("/webhooks/failed", h.ListFailed)
	r.Post("/webhooks/{eventID}/retry", h.Retry)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/failed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data struct {
			Events []webhookEventDTO `json:"events"`
			Total  int               `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Data.Total)
	require.Len(t, list.Data.Events, 1)
	assert.Equal(t, "psp-9", list.Data.Events[0].EventID)
	require.NotNil(t, list.Data.Events[0].LastError)
	assert.Equal(t, cause, *list.Data.Events[0].LastError)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/"+failed.ID.String()+"/retry", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []uuid.UUID{failed.ID}, repo.requeued)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/"+uuid.NewString()+"/retry", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
