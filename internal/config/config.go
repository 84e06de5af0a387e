package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	WebhookSecret   string        `env:"WEBHOOK_SECRET,required,notEmpty"`
	WebhookInterval time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"2s"`
	ProviderURL     string        `env:"PROVIDER_URL" envDefault:"http://mock-provider:8081"`
	ProviderName    string        `env:"PROVIDER_NAME" envDefault:"mockpay"`

	AuditArchiveDir     string        `env:"AUDIT_ARCHIVE_DIR" envDefault:"/var/lib/wallet-core/audit-archive"`
	AuditArchiveHMACKey string        `env:"AUDIT_ARCHIVE_HMAC_KEY,required,notEmpty"`
	AuditRetentionDays  int           `env:"AUDIT_RETENTION_DAYS" envDefault:"365"`
	AuditRetentionEvery time.Duration `env:"AUDIT_RETENTION_INTERVAL" envDefault:"24h"`

	ReconDriftThreshold decimal.Decimal `env:"RECON_DRIFT_THRESHOLD" envDefault:"0.01"`
	ReconProviders      []string        `env:"RECON_PROVIDERS" envSeparator:","`
	ReconInterval       time.Duration   `env:"RECON_INTERVAL" envDefault:"1h"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.ReconDriftThreshold.IsNegative() {
		return nil, fmt.Errorf("config.Load: RECON_DRIFT_THRESHOLD must not be negative")
	}
	return &cfg, nil
}

func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}
