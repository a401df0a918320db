package repository

import (
	"context"
	"time"

	"bikeshop/internal/model"

	"github.com/google/uuid"
)

// ProductRepository defines catalog reads and the conditional stock updates the
// stock ledger is built on. Stock is never written unconditionally.
type ProductRepository interface {
	// GetAll retrieves active products with pagination support.
	GetAll(ctx context.Context, limit, offset int) ([]model.Product, error)

	// GetByID retrieves a single product by its ID. Returns nil when absent.
	GetByID(ctx context.Context, id string) (*model.Product, error)

	// GetByIDs retrieves multiple products by their IDs.
	GetByIDs(ctx context.Context, ids []string) ([]model.Product, error)

	// TryDecrementStock subtracts qty in a single conditional update and
	// reports false when stock is below qty or the product is absent.
	TryDecrementStock(ctx context.Context, id string, qty int) (bool, error)

	// IncrementStock adds qty back to a product.
	IncrementStock(ctx context.Context, id string, qty int) error
}

// CancelResult describes the outcome of a conditional cancellation.
type CancelResult struct {
	// Applied is false when the order was absent or not in a cancellable state.
	Applied bool
	// RestoreStock is true when the order had its stock deducted and the
	// caller now owns the one-time restoration.
	RestoreStock bool
}

// OrderRepository defines order persistence. Every status change is a
// conditional write on the expected current state.
type OrderRepository interface {
	// Create inserts a new order.
	Create(ctx context.Context, order *model.Order) error

	// GetByID retrieves an order. Returns nil when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// List returns orders newest first.
	List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)

	// ListStalePending returns pending orders created before cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error)

	// SetPreferenceID stores the gateway payment intent reference.
	SetPreferenceID(ctx context.Context, id uuid.UUID, preferenceID string) error

	// ClaimPayment moves a pending order with no deducted stock to paid.
	// Reports false when nothing was updated.
	ClaimPayment(ctx context.Context, id uuid.UUID, paymentID string) (bool, error)

	// MarkStockDeducted sets the deduction flag once a claimed order's items
	// are taken. Reports false when the order was cancelled meanwhile.
	MarkStockDeducted(ctx context.Context, id uuid.UUID) (bool, error)

	// ReleasePaymentClaim undoes ClaimPayment after a failed stock deduction so
	// a redelivered callback can try again.
	ReleasePaymentClaim(ctx context.Context, id uuid.UUID) error

	// RecordStockShortfall marks a paid order whose stock could not be deducted.
	RecordStockShortfall(ctx context.Context, id uuid.UUID) error

	// Transition moves an order to status `to` if it is currently in one of `from`.
	Transition(ctx context.Context, id uuid.UUID, from []model.OrderStatus, to model.OrderStatus) (bool, error)

	// Cancel cancels a pending or paid order.
	Cancel(ctx context.Context, id uuid.UUID) (CancelResult, error)

	// CancelByGateway cancels a pending order, or a paid order that was paid by
	// paymentID, and stores paymentID.
	CancelByGateway(ctx context.Context, id uuid.UUID, paymentID string) (CancelResult, error)
}

// CounterSaleRepository defines counter sale persistence.
type CounterSaleRepository interface {
	// Create inserts a new sale.
	Create(ctx context.Context, sale *model.CounterSale) error

	// GetByID retrieves a sale. Returns nil when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*model.CounterSale, error)

	// List returns sales newest first.
	List(ctx context.Context, filter model.SaleFilter) ([]model.CounterSale, error)

	// SavePayments writes the payment ledger, total paid and status if the
	// stored version still equals sale.Version and the sale is pending.
	// On success sale.Version is advanced.
	SavePayments(ctx context.Context, sale *model.CounterSale) (bool, error)

	// Cancel marks a non-cancelled sale as cancelled. Reports false when the
	// sale is absent or already cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}
