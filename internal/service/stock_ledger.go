package service

import (
	"context"
	"errors"
	"fmt"

	"bikeshop/internal/model"
	"bikeshop/internal/repository"

	"github.com/rs/zerolog"
)

// StockLedger is the only path through which stock changes. Each product is
// updated atomically on its own; a multi-item deduction is made all-or-nothing
// by compensating increments, not by a database transaction.
type StockLedger struct {
	products repository.ProductRepository
	logger   zerolog.Logger
}

// NewStockLedger creates a stock ledger over the product repository.
func NewStockLedger(products repository.ProductRepository, logger zerolog.Logger) *StockLedger {
	return &StockLedger{
		products: products,
		logger:   logger.With().Str("component", "stock_ledger").Logger(),
	}
}

// TryDecrement takes qty units of a product if at least qty are in stock.
func (l *StockLedger) TryDecrement(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, model.NewValidationError("quantity must be positive", map[string]string{"quantity": "must be greater than 0"})
	}
	return l.products.TryDecrementStock(ctx, productID, qty)
}

// Increment puts qty units of a product back.
func (l *StockLedger) Increment(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return model.NewValidationError("quantity must be positive", map[string]string{"quantity": "must be greater than 0"})
	}
	return l.products.IncrementStock(ctx, productID, qty)
}

// DeductAll decrements every change. If any item cannot be taken, the items
// already taken are put back and ErrStockConflict is returned; a storage
// failure is compensated the same way and returned as is.
func (l *StockLedger) DeductAll(ctx context.Context, changes []model.StockChange) error {
	taken := make([]model.StockChange, 0, len(changes))

	for _, c := range changes {
		ok, err := l.TryDecrement(ctx, c.ProductID, c.Quantity)
		if err != nil {
			l.logger.Error().Err(err).Str("product_id", c.ProductID).Msg("stock decrement failed, compensating")
			l.compensate(ctx, taken)
			return fmt.Errorf("failed to deduct stock: %w", err)
		}
		if !ok {
			l.logger.Info().
				Str("product_id", c.ProductID).
				Int("quantity", c.Quantity).
				Int("compensated_items", len(taken)).
				Msg("insufficient stock, compensating")
			l.compensate(ctx, taken)
			return model.Errorf(model.ErrStockConflict, "insufficient stock for product %s", c.ProductID)
		}
		taken = append(taken, c)
	}

	return nil
}

// RestoreAll increments every change. It keeps going after a failure so one
// bad item does not strand the others, and reports every failure.
func (l *StockLedger) RestoreAll(ctx context.Context, changes []model.StockChange) error {
	var errs []error
	for _, c := range changes {
		if err := l.Increment(ctx, c.ProductID, c.Quantity); err != nil {
			l.logger.Error().
				Err(err).
				Str("product_id", c.ProductID).
				Int("quantity", c.Quantity).
				Msg("failed to restore stock")
			errs = append(errs, fmt.Errorf("restore %s: %w", c.ProductID, err))
		}
	}
	return errors.Join(errs...)
}

func (l *StockLedger) compensate(ctx context.Context, taken []model.StockChange) {
	// The caller's context may already be done; compensation must still run.
	ctx = context.WithoutCancel(ctx)
	if err := l.RestoreAll(ctx, taken); err != nil {
		l.logger.Error().Err(err).Msg("stock compensation incomplete, manual correction required")
	}
}
