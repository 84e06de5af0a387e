package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	env "github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
	"github.com/josh-kwaku/casino-wallet-core/internal/middleware"
)

type mockConfig struct {
	Port          int    `env:"PORT" envDefault:"8081"`
	ProviderName  string `env:"PROVIDER_NAME" envDefault:"mockpay"`
	WebhookURL    string `env:"WEBHOOK_TARGET_URL" envDefault:"http://api:8080/webhooks/provider"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required,notEmpty"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
}

func newRouter(p *mockProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Tracing, middleware.Logging, middleware.Recovery)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/payouts", p.handlePayout)
	r.Get("/reports", p.handleReport)
	r.Post("/simulate/webhooks", p.handleSimulate)
	return r
}

func main() {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[mockConfig]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("mock-provider", cfg.LogLevel, cfg.AppEnv)

	p := newMockProvider(cfg.ProviderName, cfg.WebhookURL, cfg.WebhookSecret)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("mock provider started", "addr", addr, "webhook_url", cfg.WebhookURL)
	if err := http.ListenAndServe(addr, newRouter(p)); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
