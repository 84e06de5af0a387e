package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/service/cashier"
)

// OutcomeHeader lets sandbox callers force a payout outcome on the mock
// provider.
const OutcomeHeader = "X-Mock-Outcome"

// ProviderClient talks to the payment provider. It serves as the cashier's
// payout gateway and as the reconciliation report source.
type ProviderClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

func NewProviderClient(name, baseURL string, timeout time.Duration) *ProviderClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProviderClient{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type payoutPayload struct {
	OrderID        string `json:"order_id"`
	PlayerID       string `json:"player_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PayoutResponse is the provider's synchronous answer to a payout.
type PayoutResponse struct {
	Status      string `json:"status"`
	EventID     string `json:"event_id"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (c *ProviderClient) Payout(ctx context.Context, req cashier.PayoutRequest) (*cashier.PayoutResult, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(payoutPayload{
		OrderID:        req.OrderID.String(),
		PlayerID:       req.PlayerID.String(),
		Amount:         req.Amount.String(),
		Currency:       string(req.Currency),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("Payout: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Payout: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if req.OutcomeHint != "" {
		httpReq.Header.Set(OutcomeHeader, req.OutcomeHint)
	}

	start := time.Now()
	log.Info("provider request sent", "provider", c.name, "order_id", req.OrderID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Payout: send: %w", err)
	}
	defer resp.Body.Close()

	log.Info("provider response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Payout: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out PayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("Payout: decode: %w", err)
	}

	switch out.Status {
	case "paid":
		return &cashier.PayoutResult{Success: true, ProviderEventID: out.EventID, ProviderRef: out.ProviderRef}, nil
	case "failed":
		return &cashier.PayoutResult{ProviderEventID: out.EventID, ProviderRef: out.ProviderRef, FailureReason: out.Reason}, nil
	default:
		return nil, fmt.Errorf("Payout: unknown status %q", out.Status)
	}
}

// ReportResponse is the settlement report wire format. Totals are decimal
// strings keyed by currency.
type ReportResponse struct {
	Provider    string            `json:"provider"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Totals      map[string]string `json:"totals"`
}

func (c *ProviderClient) FetchReport(ctx context.Context, provider string, start, end time.Time) (*domain.ProviderReport, error) {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reports?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: build request: %w", err)
	}

	began := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: send: %w", err)
	}
	defer resp.Body.Close()

	logging.FromContext(ctx).Info("provider report fetched",
		"provider", provider,
		"status", resp.StatusCode,
		"duration_ms", time.Since(began).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("FetchReport: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out ReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("FetchReport: decode: %w", err)
	}

	report := &domain.ProviderReport{
		Provider:    provider,
		WindowStart: start,
		WindowEnd:   end,
		Totals:      make(map[domain.Currency]decimal.Decimal, len(out.Totals)),
	}
	for cur, v := range out.Totals {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("FetchReport: total %s: %w", cur, err)
		}
		report.Totals[domain.Currency(cur)] = amount
	}
	return report, nil
}
