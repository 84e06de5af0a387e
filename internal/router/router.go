// Package router wires handlers and middleware into the chi tree.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/josh-kwaku/casino-wallet-core/internal/auth"
	"github.com/josh-kwaku/casino-wallet-core/internal/handler"
	"github.com/josh-kwaku/casino-wallet-core/internal/metrics"
	"github.com/josh-kwaku/casino-wallet-core/internal/middleware"
)

type Handlers struct {
	Health         *handler.HealthHandler
	Webhook        *handler.WebhookHandler
	Wallet         *handler.WalletHandler
	Orders         *handler.OrderHandler
	Audit          *handler.AuditHandler
	Reconciliation *handler.ReconciliationHandler
}

type Options struct {
	JWTSecret string
	Metrics   *metrics.Metrics
	// Registry backs /metrics; nil leaves the endpoint out.
	Registry *prometheus.Registry
}

func New(h Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Tracing, middleware.Logging, middleware.Recovery, middleware.Metrics(opts.Metrics))

	r.Get("/health", h.Health.Liveness)
	r.Get("/ready", h.Health.Readiness)
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Registry))
	}

	r.Post("/webhooks/provider", h.Webhook.ReceiveProviderWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.JWTSecret))

		all := middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator, auth.RoleAuditor)
		ops := middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator)
		admin := middleware.RequireRole(auth.RoleAdmin)

		r.With(all).Get("/players/{playerID}/balances/{currency}", h.Wallet.GetBalance)
		r.With(all).Get("/players/{playerID}/ledger", h.Wallet.ListPlayerLedger)
		r.With(ops).Post("/players/{playerID}/game-events", h.Wallet.GameEvent)
		r.With(all).Get("/ledger", h.Wallet.LookupLedger)

		r.With(ops).Get("/webhooks/failed", h.Webhook.ListFailed)
		r.With(admin).Post("/webhooks/{eventID}/retry", h.Webhook.Retry)

		r.With(all).Get("/orders/{orderID}", h.Orders.Get)
		r.With(ops).Post("/deposits", h.Orders.CreateDeposit)
		r.With(ops).Post("/withdrawals", h.Orders.CreateWithdrawal)
		r.Route("/withdrawals/{orderID}", func(r chi.Router) {
			r.Use(ops)
			r.Post("/approve", h.Orders.Approve)
			r.Post("/reject", h.Orders.Reject)
			r.Post("/cancel", h.Orders.Cancel)
			r.Post("/payout", h.Orders.Payout)
		})

		r.Route("/audit", func(r chi.Router) {
			r.With(all).Get("/chains/{chainID}/head", h.Audit.Head)
			r.With(all).Get("/chains/{chainID}/verify", h.Audit.Verify)
			r.With(admin).Post("/chains/{chainID}/archive", h.Audit.Archive)
			r.With(admin).Post("/archives/{manifestID}/purge", h.Audit.Purge)
			r.With(admin).Post("/archives/{manifestID}/restore", h.Audit.Restore)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.With(ops).Post("/runs", h.Reconciliation.CreateRun)
			r.With(all).Get("/runs/{runID}", h.Reconciliation.GetRun)
			r.With(ops).Post("/runs/{runID}/execute", h.Reconciliation.Execute)
			r.With(all).Get("/findings", h.Reconciliation.ListFindings)
			r.With(ops).Post("/findings/{findingID}/resolve", h.Reconciliation.ResolveFinding)
		})
	})

	return r
}
