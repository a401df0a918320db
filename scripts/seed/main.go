// Command seed loads a sample bicycle catalog into the configured database.
package main

import (
	"context"
	"fmt"
	"os"

	"bikeshop/internal/config"
	"bikeshop/internal/database"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type seedProduct struct {
	id       string
	name     string
	category string
	price    string
	discount string
	cost     string
	stock    int
}

var catalog = []seedProduct{
	{"B-100", "Mountain bike R29 21v", "bikes", "450000", "", "280000", 6},
	{"B-110", "Road bike carbon 22v", "bikes", "1250000", "1150000", "820000", 2},
	{"B-120", "Urban bike R28", "bikes", "310000", "", "190000", 8},
	{"B-130", "Kids bike R16", "bikes", "120000", "99000", "70000", 10},
	{"A-200", "Helmet MTB", "accessories", "45000", "", "22000", 25},
	{"A-210", "LED light set", "accessories", "18000", "15000", "8000", 40},
	{"P-300", "Tube R29", "parts", "7500", "", "3000", 120},
	{"P-310", "Chain 11v", "parts", "32000", "", "17000", 30},
}

const upsertProduct = `
	INSERT INTO products (id, name, category, price, discount_price, cost_price, stock, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		category = EXCLUDED.category,
		price = EXCLUDED.price,
		discount_price = EXCLUDED.discount_price,
		cost_price = EXCLUDED.cost_price,
		stock = EXCLUDED.stock,
		updated_at = NOW()`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := config.NewLogger(cfg.Logger)

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range catalog {
		var discount *decimal.Decimal
		if p.discount != "" {
			d := decimal.RequireFromString(p.discount)
			discount = &d
		}
		batch.Queue(upsertProduct, p.id, p.name, p.category,
			decimal.RequireFromString(p.price), discount, decimal.RequireFromString(p.cost), p.stock)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, p := range catalog {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.id, err)
		}
	}

	logger.Info().Int("products", len(catalog)).Msg("catalog seeded")
	return nil
}
