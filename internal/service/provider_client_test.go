package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/cashier"
)

func TestProviderClient_Payout(t *testing.T) {
	var gotHint, gotKey string
	var gotBody payoutPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payouts", r.URL.Path)
		gotHint = r.Header.Get(OutcomeHeader)
		gotKey = r.Header.Get("Idempotency-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		status := "paid"
		if gotHint == "fail" {
			status = "failed"
		}
		_ = json.NewEncoder(w).Encode(PayoutResponse{Status: status, EventID: "evt-9", Reason: "declined"})
	}))
	defer srv.Close()

	c := NewProviderClient("mockpay", srv.URL, time.Second)
	req := cashier.PayoutRequest{
		OrderID:        uuid.New(),
		PlayerID:       uuid.New(),
		Amount:         decimal.RequireFromString("12.50"),
		Currency:       domain.CurrencyEUR,
		IdempotencyKey: "k-1",
	}

	res, err := c.Payout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "evt-9", res.ProviderEventID)
	assert.Equal(t, "12.5", gotBody.Amount)
	assert.Equal(t, "EUR", gotBody.Currency)
	assert.Equal(t, "k-1", gotKey)
	assert.Empty(t, gotHint)

	req.OutcomeHint = "fail"
	res, err = c.Payout(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "declined", res.FailureReason)
	assert.Equal(t, "fail", gotHint)
}

func TestProviderClient_PayoutServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewProviderClient("mockpay", srv.URL, time.Second)
	_, err := c.Payout(context.Background(), cashier.PayoutRequest{OrderID: uuid.New(), IdempotencyKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestProviderClient_FetchReport(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reports", r.URL.Path)
		assert.Equal(t, "mockpay", r.URL.Query().Get("provider"))
		assert.Equal(t, "2026-03-01T00:00:00Z", r.URL.Query().Get("start"))
		_ = json.NewEncoder(w).Encode(ReportResponse{
			Provider: "mockpay",
			Totals:   map[string]string{"USD": "-40.00", "EUR": "12.345"},
		})
	}))
	defer srv.Close()

	c := NewProviderClient("mockpay", srv.URL, time.Second)
	report, err := c.FetchReport(context.Background(), "mockpay", start, end)
	require.NoError(t, err)
	assert.Equal(t, start, report.WindowStart)
	assert.True(t, report.Totals[domain.CurrencyUSD].Equal(decimal.RequireFromString("-40")))
	assert.True(t, report.Totals[domain.CurrencyEUR].Equal(decimal.RequireFromString("12.345")))
}
