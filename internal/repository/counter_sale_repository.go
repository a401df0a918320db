package repository

import (
	"context"
	"errors"
	"fmt"

	"bikeshop/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const counterSaleColumns = `
	id, customer_name, customer_phone, items, total, total_paid, payments,
	status, notes, version, created_at, updated_at`

// counterSaleRepository implements the CounterSaleRepository interface using PostgreSQL.
type counterSaleRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewCounterSaleRepository creates a new PostgreSQL-backed counter sale repository.
func NewCounterSaleRepository(pool *pgxpool.Pool, logger zerolog.Logger) CounterSaleRepository {
	return &counterSaleRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "counter_sale").Logger(),
	}
}

func scanCounterSale(row pgx.Row, s *model.CounterSale) error {
	return row.Scan(
		&s.ID, &s.Customer.Name, &s.Customer.Phone, &s.Items, &s.Total, &s.TotalPaid,
		&s.Payments, &s.Status, &s.Notes, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
}

// Create inserts a new sale.
func (r *counterSaleRepository) Create(ctx context.Context, sale *model.CounterSale) error {
	if sale.Payments == nil {
		sale.Payments = []model.SalePayment{}
	}
	if sale.Version == 0 {
		sale.Version = 1
	}

	query := `
		INSERT INTO counter_sales (
			id, customer_name, customer_phone, items, total, total_paid, payments,
			status, notes, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		sale.ID, sale.Customer.Name, sale.Customer.Phone, sale.Items, sale.Total, sale.TotalPaid,
		sale.Payments, sale.Status, sale.Notes, sale.Version, sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("sale_id", sale.ID.String()).Msg("failed to create counter sale")
		return fmt.Errorf("failed to create counter sale: %w", err)
	}

	r.logger.Debug().
		Str("sale_id", sale.ID.String()).
		Str("status", string(sale.Status)).
		Msg("counter sale created successfully")

	return nil
}

// GetByID retrieves a sale by its ID.
func (r *counterSaleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CounterSale, error) {
	query := `SELECT ` + counterSaleColumns + ` FROM counter_sales WHERE id = $1`

	var sale model.CounterSale
	err := scanCounterSale(r.pool.QueryRow(ctx, query, id), &sale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("sale_id", id.String()).Msg("counter sale not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Str("sale_id", id.String()).Msg("failed to query counter sale")
		return nil, fmt.Errorf("failed to query counter sale: %w", err)
	}

	return &sale, nil
}

// List returns sales newest first, optionally filtered by status.
func (r *counterSaleRepository) List(ctx context.Context, filter model.SaleFilter) ([]model.CounterSale, error) {
	query := `
		SELECT ` + counterSaleColumns + `
		FROM counter_sales
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, query, status, filter.Limit, filter.Offset)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query counter sales")
		return nil, fmt.Errorf("failed to query counter sales: %w", err)
	}
	defer rows.Close()

	sales := []model.CounterSale{}
	for rows.Next() {
		var s model.CounterSale
		if err := scanCounterSale(rows, &s); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan counter sale row")
			return nil, fmt.Errorf("failed to scan counter sale: %w", err)
		}
		sales = append(sales, s)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating counter sale rows")
		return nil, fmt.Errorf("error iterating counter sales: %w", err)
	}

	return sales, nil
}

// SavePayments writes the payment ledger under an optimistic version check.
func (r *counterSaleRepository) SavePayments(ctx context.Context, sale *model.CounterSale) (bool, error) {
	var version int
	err := r.pool.QueryRow(ctx, `
		UPDATE counter_sales
		SET payments = $3, total_paid = $4, status = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'pending'
		RETURNING version
	`, sale.ID, sale.Version, sale.Payments, sale.TotalPaid, sale.Status).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().
				Str("sale_id", sale.ID.String()).
				Int("version", sale.Version).
				Msg("counter sale changed concurrently")
			return false, nil
		}
		r.logger.Error().Err(err).Str("sale_id", sale.ID.String()).Msg("failed to save payments")
		return false, fmt.Errorf("failed to save payments: %w", err)
	}

	sale.Version = version
	return true, nil
}

// Cancel marks a sale as cancelled unless it already is.
func (r *counterSaleRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE counter_sales
		SET status = 'cancelled', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'
	`, id)
	if err != nil {
		r.logger.Error().Err(err).Str("sale_id", id.String()).Msg("failed to cancel counter sale")
		return false, fmt.Errorf("failed to cancel counter sale: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
