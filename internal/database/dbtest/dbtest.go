// Package dbtest starts a disposable PostgreSQL for repository and end-to-end tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"bikeshop/internal/database"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB represents a test database instance.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// Setup creates a PostgreSQL container, applies migrations and registers cleanup.
// It skips the calling test under -short.
func Setup(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bikeshop_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("failed to parse connection string: %v", err)
	}
	poolConfig.MaxConns = 20

	pool, err := database.Connect(ctx, poolConfig)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if err := database.Migrate(ctx, pool, zerolog.Nop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}
}

// SeedProduct is a catalog row inserted by tests.
type SeedProduct struct {
	ID       string
	Name     string
	Price    int64
	Discount *int64
	Cost     int64
	Stock    int
	Active   bool
}

// SeedProducts inserts catalog rows.
func SeedProducts(t *testing.T, pool *pgxpool.Pool, products ...SeedProduct) {
	t.Helper()

	ctx := context.Background()
	for _, p := range products {
		var discount *decimal.Decimal
		if p.Discount != nil {
			d := decimal.NewFromInt(*p.Discount)
			discount = &d
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO products (id, name, image_url, category, price, discount_price, cost_price, stock, active)
			VALUES ($1, $2, $3, 'bikes', $4, $5, $6, $7, $8)`,
			p.ID, p.Name, "https://img.example.com/"+p.ID+".jpg",
			decimal.NewFromInt(p.Price), discount, decimal.NewFromInt(p.Cost), p.Stock, p.Active,
		)
		if err != nil {
			t.Fatalf("failed to seed product %s: %v", p.ID, err)
		}
	}
}

// StockOf reads a product's current stock.
func StockOf(t *testing.T, pool *pgxpool.Pool, productID string) int {
	t.Helper()

	var stock int
	err := pool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		t.Fatalf("failed to read stock of %s: %v", productID, err)
	}
	return stock
}

// Truncate removes all rows from the domain tables.
func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `TRUNCATE orders, counter_sales, products`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
