package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bikeshop/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const orderColumns = `
	id, user_id, items, subtotal, total, status, payment_method,
	gateway_payment_id, gateway_preference_id, shipping_address, notes,
	stock_deducted, stock_restored, stock_shortfall, created_at, updated_at`

// orderRepository implements the OrderRepository interface using PostgreSQL.
type orderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "order").Logger(),
	}
}

func scanOrder(row pgx.Row, o *model.Order) error {
	return row.Scan(
		&o.ID, &o.UserID, &o.Items, &o.Subtotal, &o.Total, &o.Status, &o.PaymentMethod,
		&o.GatewayPaymentID, &o.GatewayPreferenceID, &o.ShippingAddress, &o.Notes,
		&o.StockDeducted, &o.StockRestored, &o.StockShortfall, &o.CreatedAt, &o.UpdatedAt,
	)
}

// Create inserts a new order.
func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	query := `
		INSERT INTO orders (
			id, user_id, items, subtotal, total, status, payment_method,
			shipping_address, notes, stock_deducted, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		order.ID, order.UserID, order.Items, order.Subtotal, order.Total, order.Status,
		order.PaymentMethod, order.ShippingAddress, order.Notes, order.StockDeducted,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Debug().
		Str("order_id", order.ID.String()).
		Int("item_count", len(order.Items)).
		Msg("order created successfully")

	return nil
}

// GetByID retrieves an order by its ID.
func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order model.Order
	err := scanOrder(r.pool.QueryRow(ctx, query, id), &order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("order_id", id.String()).Msg("order not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	return &order, nil
}

// List returns orders newest first, optionally filtered by status and owner.
func (r *orderRepository) List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR user_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	return r.queryOrders(ctx, query, status, filter.UserID, filter.Limit, filter.Offset)
}

// ListStalePending returns pending orders older than cutoff.
func (r *orderRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.queryOrders(ctx, query, cutoff, limit)
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query orders")
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		if err := scanOrder(rows, &o); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order row")
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order rows")
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// SetPreferenceID stores the gateway payment intent reference.
func (r *orderRepository) SetPreferenceID(ctx context.Context, id uuid.UUID, preferenceID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders SET gateway_preference_id = $2, updated_at = NOW() WHERE id = $1
	`, id, preferenceID)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to store preference id")
		return fmt.Errorf("failed to store preference id: %w", err)
	}
	return nil
}

// ClaimPayment is the idempotency guard for payment confirmation: only one
// caller can ever observe RowsAffected == 1 for a given order. stock_deducted
// stays false until MarkStockDeducted, so a cancellation racing the deduction
// never restores units that were not taken.
func (r *orderRepository) ClaimPayment(ctx context.Context, id uuid.UUID, paymentID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = 'paid', gateway_payment_id = $2, updated_at = NOW()
		WHERE id = $1 AND stock_deducted = FALSE AND status = 'pending'
	`, id, paymentID)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Str("payment_id", paymentID).Msg("failed to claim payment")
		return false, fmt.Errorf("failed to claim payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkStockDeducted records that a claimed order's items were taken from
// stock. It reports false when the order was cancelled in the meantime.
func (r *orderRepository) MarkStockDeducted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET stock_deducted = TRUE, updated_at = NOW()
		WHERE id = $1 AND stock_deducted = FALSE AND status IN ('paid', 'shipped', 'delivered')
	`, id)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to mark stock deducted")
		return false, fmt.Errorf("failed to mark stock deducted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleasePaymentClaim returns a claimed order to pending.
func (r *orderRepository) ReleasePaymentClaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'paid' AND stock_deducted = FALSE
	`, id)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to release payment claim")
		return fmt.Errorf("failed to release payment claim: %w", err)
	}
	return nil
}

// RecordStockShortfall marks a paid order whose items could not be deducted.
// stock_deducted stays false so cancellation does not restore stock that was
// never taken.
func (r *orderRepository) RecordStockShortfall(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET stock_shortfall = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'paid'
	`, id)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to record stock shortfall")
		return fmt.Errorf("failed to record stock shortfall: %w", err)
	}
	return nil
}

// Transition moves an order from one of `from` to `to`.
func (r *orderRepository) Transition(ctx context.Context, id uuid.UUID, from []model.OrderStatus, to model.OrderStatus) (bool, error) {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), sources)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Str("to", string(to)).Msg("failed to transition order")
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel cancels a pending or paid order. stock_restored takes the value of
// stock_deducted in the same write, so restoration is handed out at most once.
func (r *orderRepository) Cancel(ctx context.Context, id uuid.UUID) (CancelResult, error) {
	return r.cancel(ctx, `
		UPDATE orders
		SET status = 'cancelled', stock_restored = stock_deducted, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'paid')
		RETURNING stock_restored
	`, id)
}

// CancelByGateway applies a rejected or cancelled payment. A stale rejection
// for some other payment never cancels an order that is already paid.
func (r *orderRepository) CancelByGateway(ctx context.Context, id uuid.UUID, paymentID string) (CancelResult, error) {
	return r.cancel(ctx, `
		UPDATE orders
		SET status = 'cancelled', gateway_payment_id = $2,
		    stock_restored = stock_deducted, updated_at = NOW()
		WHERE id = $1
		  AND (status = 'pending' OR (status = 'paid' AND gateway_payment_id = $2))
		RETURNING stock_restored
	`, id, paymentID)
}

func (r *orderRepository) cancel(ctx context.Context, query string, id uuid.UUID, args ...any) (CancelResult, error) {
	var restore bool
	err := r.pool.QueryRow(ctx, query, append([]any{id}, args...)...).Scan(&restore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CancelResult{}, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to cancel order")
		return CancelResult{}, fmt.Errorf("failed to cancel order: %w", err)
	}

	r.logger.Debug().Str("order_id", id.String()).Bool("restore_stock", restore).Msg("order cancelled")
	return CancelResult{Applied: true, RestoreStock: restore}, nil
}
