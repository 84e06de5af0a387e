package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

// SeedPlayer creates a player whose primary currency wallet starts with the
// given available balance. The mirror and the wallet row agree.
func SeedPlayer(t *testing.T, db *sql.DB, tenantID uuid.UUID, currency domain.Currency, available string) *domain.Player {
	t.Helper()

	now := time.Now().UTC()
	p := &domain.Player{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Currency:         currency,
		Status:           domain.PlayerStatusActive,
		BalanceAvailable: decimal.RequireFromString(available),
		BalanceHeld:      decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err := db.Exec(
		`INSERT INTO players (id, tenant_id, currency, status, balance_available, balance_held, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.TenantID, p.Currency, p.Status, p.BalanceAvailable, p.BalanceHeld, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed player: %v", err)
	}

	_, err = db.Exec(
		`INSERT INTO wallet_balances (tenant_id, player_id, currency, balance_available, balance_pending)
		 VALUES ($1, $2, $3, $4, 0)`,
		p.TenantID, p.ID, p.Currency, p.BalanceAvailable,
	)
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return p
}

type Balances struct {
	Available       decimal.Decimal
	Pending         decimal.Decimal
	MirrorAvailable decimal.Decimal
	MirrorHeld      decimal.Decimal
}

// GetBalances reads the wallet row and the player mirror. A missing wallet
// row reads as zero.
func GetBalances(t *testing.T, db *sql.DB, playerID uuid.UUID, currency domain.Currency) Balances {
	t.Helper()

	var b Balances
	err := db.QueryRow(
		`SELECT balance_available, balance_held FROM players WHERE id = $1`, playerID,
	).Scan(&b.MirrorAvailable, &b.MirrorHeld)
	if err != nil {
		t.Fatalf("get player mirror %s: %v", playerID, err)
	}

	err = db.QueryRow(
		`SELECT balance_available, balance_pending FROM wallet_balances
		 WHERE player_id = $1 AND currency = $2`, playerID, currency,
	).Scan(&b.Available, &b.Pending)
	if err != nil && err != sql.ErrNoRows {
		t.Fatalf("get wallet %s/%s: %v", playerID, currency, err)
	}
	return b
}

func CountLedgerEntries(t *testing.T, db *sql.DB, playerID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE player_id = $1`, playerID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for player %s: %v", playerID, err)
	}
	return count
}

func CountLedgerEntriesByStatus(t *testing.T, db *sql.DB, txID uuid.UUID, status string) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE tx_id = $1 AND status = $2`, txID, status,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count %s ledger entries for tx %s: %v", status, txID, err)
	}
	return count
}

// InsertLedgerEntry writes a raw ledger row, bypassing the wallet. Tests use
// it to fabricate history the services would never produce.
func InsertLedgerEntry(t *testing.T, db *sql.DB, e domain.LedgerEntry) {
	t.Helper()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		`INSERT INTO ledger_entries (
			id, tx_id, tenant_id, player_id, type, direction, amount, currency,
			status, idempotency_key, provider, provider_ref, provider_event_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.TxID, e.TenantID, e.PlayerID, e.Type, e.Direction, e.Amount, e.Currency,
		e.Status, e.IdempotencyKey, e.Provider, e.ProviderRef, e.ProviderEventID, e.CreatedAt,
	)
	if err != nil {
		t.Fatalf("insert ledger entry: %v", err)
	}
}

// InsertOrder writes a raw order row in any state.
func InsertOrder(t *testing.T, db *sql.DB, o domain.Order) *domain.Order {
	t.Helper()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.IdempotencyKey == "" {
		o.IdempotencyKey = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	_, err := db.Exec(
		`INSERT INTO orders (
			id, tenant_id, player_id, type, amount, currency, state,
			idempotency_key, provider, provider_event_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.TenantID, o.PlayerID, o.Type, o.Amount, o.Currency, o.State,
		o.IdempotencyKey, o.Provider, o.ProviderEventID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return &o
}

func StrPtr(s string) *string { return &s }
