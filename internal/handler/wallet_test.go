package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

type fakeWallet struct {
	available decimal.Decimal
	seen      map[string]bool
	last      domain.WalletDelta
}

func newFakeWallet(available string) *fakeWallet {
	return &fakeWallet{available: decimal.RequireFromString(available), seen: map[string]bool{}}
}

func (f *fakeWallet) GetBalance(_ context.Context, tenantID, playerID uuid.UUID, currency domain.Currency) (*domain.WalletBalance, error) {
	return &domain.WalletBalance{TenantID: tenantID, PlayerID: playerID, Currency: currency, Available: f.available}, nil
}

func (f *fakeWallet) Apply(_ context.Context, d domain.WalletDelta) (bool, error) {
	f.last = d
	if f.seen[*d.IdempotencyKey] {
		return false, nil
	}
	next := f.available.Add(d.DeltaAvailable)
	if next.IsNegative() {
		return false, &domain.WalletInvariantError{Code: domain.CodeInsufficientFunds, PlayerID: d.PlayerID}
	}
	f.seen[*d.IdempotencyKey] = true
	f.available = next
	return true, nil
}

type fakeLedger struct {
	provider, eventID string
}

func (f *fakeLedger) GetByTxID(_ context.Context, txID uuid.UUID) ([]domain.LedgerEntry, error) {
	return []domain.LedgerEntry{{ID: uuid.New(), TxID: &txID, Type: domain.EntryTypeWithdrawal, Direction: domain.DirectionDebit}}, nil
}

func (f *fakeLedger) GetByProviderEventID(_ context.Context, provider, eventID string) ([]domain.LedgerEntry, error) {
	f.provider, f.eventID = provider, eventID
	return nil, nil
}

func (f *fakeLedger) ListByPlayer(_ context.Context, _ uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	return nil, 0, nil
}

func walletRouter(w *fakeWallet, l *fakeLedger) http.Handler {
	h := NewWalletHandler(w, l)
	r := chi.NewRouter()
	r.Get("/players/{playerID}/balances/{currency}", h.GetBalance)
	r.Get("/ledger", h.LookupLedger)
	r.Post("/players/{playerID}/game-events", h.GameEvent)
	return r
}

func gameEvent(t *testing.T, h http.Handler, playerID uuid.UUID, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/players/"+playerID.String()+"/game-events", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGameEvent_BetAndWin(t *testing.T) {
	w := newFakeWallet("100.00")
	h := walletRouter(w, &fakeLedger{})
	playerID := uuid.New()
	tenant := uuid.NewString()

	rec := gameEvent(t, h, playerID, "round-1:bet",
		`{"tenant_id":"`+tenant+`","type":"bet","amount":"30","currency":"USD","provider":"slots","event_id":"b-1","round_id":"round-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.StatusBetPlaced, w.last.EventType)
	assert.Equal(t, domain.EntryTypeBet, w.last.EntryType)
	assert.True(t, w.last.DeltaAvailable.Equal(decimal.NewFromInt(-30)))
	require.NotNil(t, w.last.ProviderRef)
	assert.Equal(t, "round-1", *w.last.ProviderRef)

	rec = gameEvent(t, h, playerID, "round-1:win",
		`{"tenant_id":"`+tenant+`","type":"win","amount":"45.50","currency":"USD"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, w.last.Provider)

	var resp struct {
		Data struct {
			Applied bool `json:"applied"`
			Balance struct {
				Available string `json:"available"`
			} `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Applied)
	assert.Equal(t, "115.5", resp.Data.Balance.Available)
}

func TestGameEvent_ReplayAnswers200(t *testing.T) {
	w := newFakeWallet("10")
	h := walletRouter(w, &fakeLedger{})
	playerID := uuid.New()
	body := `{"tenant_id":"` + uuid.NewString() + `","type":"bet","amount":"5","currency":"EUR"}`

	require.Equal(t, http.StatusCreated, gameEvent(t, h, playerID, "k", body).Code)
	rec := gameEvent(t, h, playerID, "k", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, w.available.Equal(decimal.NewFromInt(5)))
}

func TestGameEvent_Rejections(t *testing.T) {
	tenant := uuid.NewString()
	tests := []struct {
		name     string
		key      string
		body     string
		wantCode int
		wantErr  string
	}{
		{"missing key", "", `{}`, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY"},
		{"unknown type", "k", `{"tenant_id":"` + tenant + `","type":"jackpot","amount":"1","currency":"USD"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"zero amount", "k", `{"tenant_id":"` + tenant + `","type":"bet","amount":"0","currency":"USD"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"provider without event", "k", `{"tenant_id":"` + tenant + `","type":"bet","amount":"1","currency":"USD","provider":"slots"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bet over balance", "k", `{"tenant_id":"` + tenant + `","type":"bet","amount":"1000","currency":"USD"}`, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := gameEvent(t, walletRouter(newFakeWallet("50"), &fakeLedger{}), uuid.New(), tt.key, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeResponse(t, rec).Error.Code)
		})
	}
}

func TestGetBalance_RequiresTenant(t *testing.T) {
	rec := httptest.NewRecorder()
	walletRouter(newFakeWallet("0"), &fakeLedger{}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/players/"+uuid.NewString()+"/balances/USD", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupLedger(t *testing.T) {
	l := &fakeLedger{}
	h := walletRouter(newFakeWallet("0"), l)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger?tx_id="+uuid.NewString(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger?provider_event_id=evt-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger?provider=mockpay&provider_event_id=evt-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mockpay", l.provider)
	assert.Equal(t, "evt-1", l.eventID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
