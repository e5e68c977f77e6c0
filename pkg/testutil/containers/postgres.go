//go:build integration

// Package containers starts throwaway Postgres and Redis instances for integration tests.
package containers

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/aura-conference/backend/pkg/database"
)

// PostgresContainer wraps a testcontainers Postgres instance with the schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	Pool      *pgxpool.Pool
}

// NewPostgresContainer starts Postgres, runs the embedded migrations and registers cleanup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("conference"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := database.Migrate(ctx, pool, nil); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(context.Background())
	})

	return &PostgresContainer{Container: container, DSN: dsn, Pool: pool}
}

// Seed inserts an organization and one of its conferences.
func (p *PostgresContainer) Seed(t *testing.T, orgID, conferenceID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := p.Pool.Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, $1) ON CONFLICT DO NOTHING`, orgID); err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	if _, err := p.Pool.Exec(ctx, `INSERT INTO conferences (id, org_id, title) VALUES ($1, $2, $1) ON CONFLICT DO NOTHING`, conferenceID, orgID); err != nil {
		t.Fatalf("seed conference: %v", err)
	}
}
