package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/josh-kwaku/casino-wallet-core/internal/repository"
)

const templateDB = "wallet_template"

// cluster is one Postgres container per test binary. The template database
// carries the migrated schema; every test gets its own clone.
var cluster struct {
	once    sync.Once
	err     error
	baseURL *url.URL
	admin   *sql.DB
	seq     atomic.Int64
}

func startCluster() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase(templateDB),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("get connection string: %w", err)
	}
	base, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("parse connection string: %w", err)
	}

	tmpl, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("open template db: %w", err)
	}
	err = repository.MigrateUp(tmpl)
	tmpl.Close()
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	admin, err := sql.Open("postgres", withDatabase(base, "postgres"))
	if err != nil {
		return fmt.Errorf("open admin db: %w", err)
	}

	cluster.baseURL = base
	cluster.admin = admin
	return nil
}

func withDatabase(base *url.URL, name string) string {
	u := *base
	u.Path = "/" + name
	return u.String()
}

// SetupTestDB returns a connection to a fresh, fully migrated database that
// is dropped when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	cluster.once.Do(func() { cluster.err = startCluster() })
	if cluster.err != nil {
		t.Fatalf("test database cluster: %v", cluster.err)
	}

	name := fmt.Sprintf("wallet_test_%d", cluster.seq.Add(1))
	if _, err := cluster.admin.Exec(fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", name, templateDB)); err != nil {
		t.Fatalf("create test database: %v", err)
	}

	db, err := sql.Open("postgres", withDatabase(cluster.baseURL, name))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		if _, err := cluster.admin.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", name)); err != nil {
			t.Logf("drop test database %s: %v", name, err)
		}
	})

	return db
}
