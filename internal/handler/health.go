package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const probeTimeout = 2 * time.Second

type HealthHandler struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthHandler builds the probes. rdb may be nil when no Redis is
// configured; it is then left out of readiness.
func NewHealthHandler(db *sql.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness fails while the database is unreachable or a migration was left
// dirty, since wallet writes would then run against an unknown schema.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	checks := map[string]string{}
	ready := true

	version, err := h.schemaVersion(ctx)
	switch {
	case err != nil:
		slog.Warn("readiness check failed: database unreachable", "error", err)
		checks["database"] = "down"
		ready = false
	case version == "":
		checks["database"] = "ok"
		checks["schema"] = "dirty"
		ready = false
	default:
		checks["database"] = "ok"
		checks["schema"] = version
	}

	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			slog.Warn("readiness check failed: redis unreachable", "error", err)
			checks["redis"] = "down"
			ready = false
		}
	}

	status, httpStatus := "ok", http.StatusOK
	if !ready {
		status, httpStatus = "down", http.StatusServiceUnavailable
	}
	RespondJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// schemaVersion returns the applied migration version, or "" when the last
// migration did not finish.
func (h *HealthHandler) schemaVersion(ctx context.Context) (string, error) {
	var (
		version string
		dirty   bool
	)
	err := h.db.QueryRowContext(ctx, `SELECT version::text, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return "", err
	}
	if dirty {
		return "", nil
	}
	return version, nil
}
