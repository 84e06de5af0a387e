package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/service"
)

type settlement struct {
	at       time.Time
	currency string
	amount   decimal.Decimal
}

// mockProvider is an in-memory stand-in for the payment provider. It
// answers payouts, signs webhook callbacks and reports settled totals.
type mockProvider struct {
	name       string
	webhookURL string
	secret     string
	client     *http.Client
	now        func() time.Time

	mu          sync.Mutex
	payouts     map[string]service.PayoutResponse
	settlements []settlement
}

func newMockProvider(name, webhookURL, secret string) *mockProvider {
	return &mockProvider{
		name:       name,
		webhookURL: webhookURL,
		secret:     secret,
		client:     &http.Client{Timeout: 5 * time.Second},
		now:        time.Now,
		payouts:    make(map[string]service.PayoutResponse),
	}
}

type payoutRequest struct {
	OrderID        string `json:"order_id"`
	PlayerID       string `json:"player_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (p *mockProvider) handlePayout(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	amount, err := decimal.NewFromString(req.Amount)
	if key == "" || err != nil || !amount.IsPositive() || req.Currency == "" {
		http.Error(w, "idempotency key, positive amount and currency are required", http.StatusBadRequest)
		return
	}

	outcome := strings.ToLower(r.Header.Get(service.OutcomeHeader))

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.payouts[key]; ok {
		log.Info("payout replayed", "idempotency_key", key, "status", prev.Status)
		writeJSON(w, http.StatusOK, prev)
		return
	}

	if outcome == "error" {
		log.Warn("payout forced to error", "idempotency_key", key)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	resp := service.PayoutResponse{
		EventID:     "po_" + uuid.NewString(),
		ProviderRef: "ref_" + uuid.NewString()[:8],
	}
	if outcome == "fail" || outcome == "failed" {
		resp.Status = "failed"
		resp.Reason = "beneficiary account rejected"
	} else {
		resp.Status = "paid"
		p.settlements = append(p.settlements, settlement{
			at:       p.now().UTC(),
			currency: strings.ToUpper(req.Currency),
			amount:   amount.Neg(),
		})
	}
	p.payouts[key] = resp

	log.Info("payout processed", "order_id", req.OrderID, "idempotency_key", key, "status", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

func (p *mockProvider) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		http.Error(w, "start must be RFC3339", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil || !end.After(start) {
		http.Error(w, "end must be RFC3339 and after start", http.StatusBadRequest)
		return
	}

	totals := make(map[string]decimal.Decimal)
	p.mu.Lock()
	for _, s := range p.settlements {
		if s.at.Before(start) || !s.at.Before(end) {
			continue
		}
		totals[s.currency] = totals[s.currency].Add(s.amount)
	}
	p.mu.Unlock()

	out := service.ReportResponse{
		Provider:    p.name,
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		Totals:      make(map[string]string, len(totals)),
	}
	for c, v := range totals {
		out.Totals[c] = v.String()
	}
	writeJSON(w, http.StatusOK, out)
}

type simulateRequest struct {
	Type        string `json:"type"`
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PayoutKey   string `json:"payout_key,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type webhookBody struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	OrderID     string `json:"order_id"`
	PayoutKey   string `json:"payout_key,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// handleSimulate emits a signed callback to the wallet service, the way the
// real provider would after an asynchronous event.
func (p *mockProvider) handleSimulate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	eventType := domain.WebhookEventType(req.Type)
	if !eventType.IsValid() {
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}

	now := p.now().UTC()
	body := webhookBody{
		EventID:     "evt_" + uuid.NewString(),
		Type:        req.Type,
		OrderID:     req.OrderID,
		PayoutKey:   req.PayoutKey,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		ProviderRef: req.ProviderRef,
		Reason:      req.Reason,
		Timestamp:   now.Format(time.RFC3339),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "encode webhook", http.StatusInternalServerError)
		return
	}

	status, err := p.deliver(r, raw)
	if err != nil {
		log.Error("webhook delivery failed", "event_id", body.EventID, "error", err)
		http.Error(w, "webhook delivery failed", http.StatusBadGateway)
		return
	}
	if status == http.StatusOK {
		p.recordSettlement(eventType, req, now)
	}

	log.Info("webhook delivered", "event_id", body.EventID, "type", req.Type, "status", status)
	writeJSON(w, http.StatusOK, map[string]any{"event_id": body.EventID, "delivery_status": status})
}

func (p *mockProvider) deliver(r *http.Request, raw []byte) (int, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sign(raw, p.secret))

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *mockProvider) recordSettlement(t domain.WebhookEventType, req simulateRequest, at time.Time) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || req.Currency == "" {
		return
	}
	switch t {
	case domain.WebhookEventTypeDepositCaptured:
	case domain.WebhookEventTypeDepositRefunded, domain.WebhookEventTypeChargeback:
		amount = amount.Neg()
	default:
		return
	}

	p.mu.Lock()
	p.settlements = append(p.settlements, settlement{at: at, currency: strings.ToUpper(req.Currency), amount: amount})
	p.mu.Unlock()
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
