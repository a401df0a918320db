package service

import (
	"context"
	"time"

	"bikeshop/internal/model"

	"github.com/google/uuid"
)

// ProductService defines storefront catalog reads.
type ProductService interface {
	// GetAll retrieves active products with pagination.
	GetAll(ctx context.Context, limit, offset int) ([]model.Product, error)

	// GetByID retrieves a single product by ID.
	GetByID(ctx context.Context, id string) (*model.Product, error)
}

// OrderService defines online order operations for buyers and staff.
type OrderService interface {
	// Checkout prices the requested items from the catalog, creates a pending
	// order and returns the gateway redirect. No stock is touched.
	Checkout(ctx context.Context, userID string, req *model.CheckoutRequest) (*model.CheckoutResponse, error)

	// GetForUser retrieves an order owned by userID.
	GetForUser(ctx context.Context, userID string, id uuid.UUID) (*model.Order, error)

	// ListForUser lists the orders owned by userID, newest first.
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Order, error)

	// GetByID retrieves any order.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// List lists orders, optionally filtered by status.
	List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)

	// UpdateStatus applies a staff transition: shipped, delivered or cancelled.
	UpdateStatus(ctx context.Context, id uuid.UUID, to model.OrderStatus) (*model.Order, error)

	// ListStalePending lists pending orders older than olderThan. Zero uses
	// the configured default.
	ListStalePending(ctx context.Context, olderThan time.Duration) ([]model.Order, error)
}

// CounterSaleService defines in-person sale operations.
type CounterSaleService interface {
	// Create prices the items, deducts stock and records an optional initial payment.
	Create(ctx context.Context, req *model.CounterSaleRequest) (*model.CounterSale, error)

	// RecordPayment appends an instalment to a pending sale.
	RecordPayment(ctx context.Context, id uuid.UUID, req *model.PaymentRequest) (*model.PaymentResponse, error)

	// Cancel cancels a sale and restores its stock.
	Cancel(ctx context.Context, id uuid.UUID) (*model.CounterSale, error)

	// GetByID retrieves a sale.
	GetByID(ctx context.Context, id uuid.UUID) (*model.CounterSale, error)

	// List lists sales, optionally filtered by status.
	List(ctx context.Context, filter model.SaleFilter) ([]model.CounterSale, error)
}

// Outcome is what a payment callback did to the store.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeShortfall Outcome = "paid_with_stock_shortfall"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeRefundRequired is an approved payment for an order that was
	// cancelled while it was being applied.
	OutcomeRefundRequired Outcome = "refund_required"
)

// ReconciliationService applies payment gateway callbacks to orders.
type ReconciliationService interface {
	// HandlePayment re-reads the payment from the gateway and applies it to
	// its order exactly once. A non-nil error means the callback should be
	// retried by the gateway.
	HandlePayment(ctx context.Context, paymentID string) (Outcome, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalisePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
