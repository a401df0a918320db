package service

import (
	"context"
	"fmt"
	"time"

	"bikeshop/internal/model"
	"bikeshop/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxPaymentAttempts bounds optimistic retries when two payments race on one sale.
const maxPaymentAttempts = 3

// counterSaleService implements CounterSaleService.
type counterSaleService struct {
	saleRepo    repository.CounterSaleRepository
	productRepo repository.ProductRepository
	ledger      *StockLedger
	tolerance   decimal.Decimal
	logger      zerolog.Logger
}

// NewCounterSaleService creates a new counter sale service. tolerance is how
// far a payment may exceed the remaining balance and still be accepted (and
// clamped to it).
func NewCounterSaleService(
	saleRepo repository.CounterSaleRepository,
	productRepo repository.ProductRepository,
	ledger *StockLedger,
	tolerance decimal.Decimal,
	logger zerolog.Logger,
) CounterSaleService {
	return &counterSaleService{
		saleRepo:    saleRepo,
		productRepo: productRepo,
		ledger:      ledger,
		tolerance:   tolerance,
		logger:      logger.With().Str("service", "counter_sale").Logger(),
	}
}

// Create registers an in-person sale. Stock is deducted immediately.
func (s *counterSaleService) Create(ctx context.Context, req *model.CounterSaleRequest) (*model.CounterSale, error) {
	if err := model.Validate(req); err != nil {
		return nil, err
	}

	items, total, err := priceItems(ctx, s.productRepo, req.Items)
	if err != nil {
		s.logger.Warn().Err(err).Msg("counter sale rejected")
		return nil, err
	}

	now := time.Now().UTC()
	sale := &model.CounterSale{
		ID:        uuid.New(),
		Customer:  req.Customer,
		Items:     items,
		Total:     total,
		Payments:  []model.SalePayment{},
		Status:    model.SalePending,
		Notes:     req.Notes,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.InitialPayment != nil && req.InitialPayment.IsPositive() {
		amount, err := s.acceptAmount(*req.InitialPayment, total)
		if err != nil {
			return nil, err
		}
		sale.Payments = append(sale.Payments, model.SalePayment{ID: uuid.New(), Amount: amount, PaidAt: now})
	}
	s.settle(sale)

	if err := sale.CheckInvariants(); err != nil {
		s.logger.Error().Err(err).Str("sale_id", sale.ID.String()).Msg("refusing to persist inconsistent sale")
		return nil, err
	}

	if err := s.ledger.DeductAll(ctx, sale.StockChanges()); err != nil {
		s.logger.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("stock deduction failed")
		return nil, err
	}

	if err := s.saleRepo.Create(ctx, sale); err != nil {
		s.logger.Error().Err(err).Str("sale_id", sale.ID.String()).Msg("failed to persist sale, restoring stock")
		if rErr := s.ledger.RestoreAll(context.WithoutCancel(ctx), sale.StockChanges()); rErr != nil {
			s.logger.Error().Err(rErr).Str("sale_id", sale.ID.String()).Msg("stock restore after failed sale incomplete")
		}
		return nil, fmt.Errorf("failed to create counter sale: %w", err)
	}

	s.logger.Info().
		Str("sale_id", sale.ID.String()).
		Str("total", sale.Total.String()).
		Str("total_paid", sale.TotalPaid.String()).
		Str("status", string(sale.Status)).
		Msg("counter sale created")

	return sale, nil
}

// RecordPayment appends a payment, retrying when another payment for the
// same sale was saved in between.
func (s *counterSaleService) RecordPayment(ctx context.Context, id uuid.UUID, req *model.PaymentRequest) (*model.PaymentResponse, error) {
	if err := model.Validate(req); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxPaymentAttempts; attempt++ {
		sale, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		switch sale.Status {
		case model.SaleCancelled:
			return nil, model.Errorf(model.ErrSaleClosed, "sale %s is cancelled", id)
		case model.SalePaid:
			return nil, model.Errorf(model.ErrNothingOwed, "sale %s is already fully paid", id)
		}

		amount, err := s.acceptAmount(req.Amount, sale.Remaining())
		if err != nil {
			return nil, err
		}

		sale.Payments = append(sale.Payments, model.SalePayment{
			ID:     uuid.New(),
			Amount: amount,
			PaidAt: time.Now().UTC(),
			Note:   req.Note,
		})
		s.settle(sale)

		if err := sale.CheckInvariants(); err != nil {
			s.logger.Error().Err(err).Str("sale_id", id.String()).Msg("refusing to persist inconsistent sale")
			return nil, err
		}

		saved, err := s.saleRepo.SavePayments(ctx, sale)
		if err != nil {
			return nil, fmt.Errorf("failed to record payment: %w", err)
		}
		if saved {
			s.logger.Info().
				Str("sale_id", id.String()).
				Str("amount", amount.String()).
				Str("total_paid", sale.TotalPaid.String()).
				Str("status", string(sale.Status)).
				Msg("payment recorded")

			return &model.PaymentResponse{
				SaleID:    sale.ID,
				TotalPaid: sale.TotalPaid,
				Remaining: sale.Remaining(),
				Status:    sale.Status,
			}, nil
		}

		s.logger.Debug().Str("sale_id", id.String()).Int("attempt", attempt).Msg("sale changed concurrently, retrying")
	}

	s.logger.Warn().Str("sale_id", id.String()).Msg("payment not recorded after retries")
	return nil, model.ErrConcurrentUpdate
}

// acceptAmount rejects payments that exceed what is owed by more than the
// tolerance and clamps the rest to the exact balance.
func (s *counterSaleService) acceptAmount(amount, remaining decimal.Decimal) (decimal.Decimal, error) {
	if !remaining.IsPositive() {
		return decimal.Zero, model.ErrNothingOwed
	}
	if amount.GreaterThan(remaining.Add(s.tolerance)) {
		return decimal.Zero, model.Errorf(model.ErrOverpayment,
			"payment of %s exceeds the remaining balance of %s", amount.StringFixed(2), remaining.StringFixed(2))
	}
	return decimal.Min(amount, remaining), nil
}

// settle recomputes the paid total from the ledger and derives the status.
func (s *counterSaleService) settle(sale *model.CounterSale) {
	sale.TotalPaid = sale.SumPayments()
	if sale.TotalPaid.GreaterThanOrEqual(sale.Total) {
		sale.Status = model.SalePaid
	}
}

// Cancel cancels a pending or paid sale and restores its stock. Recorded
// payments are kept as history.
func (s *counterSaleService) Cancel(ctx context.Context, id uuid.UUID) (*model.CounterSale, error) {
	sale, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sale.Status == model.SaleCancelled {
		return nil, model.Errorf(model.ErrAlreadyCancelled, "sale %s is already cancelled", id)
	}

	cancelled, err := s.saleRepo.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel sale: %w", err)
	}
	if !cancelled {
		return nil, model.Errorf(model.ErrAlreadyCancelled, "sale %s is already cancelled", id)
	}

	if err := s.ledger.RestoreAll(ctx, sale.StockChanges()); err != nil {
		s.logger.Error().Err(err).Str("sale_id", id.String()).Msg("sale cancelled but stock restore incomplete")
		return nil, fmt.Errorf("sale cancelled but stock restore incomplete: %w", err)
	}

	s.logger.Info().
		Str("sale_id", id.String()).
		Str("previous_status", string(sale.Status)).
		Int("payments_kept", len(sale.Payments)).
		Msg("counter sale cancelled")

	sale.Status = model.SaleCancelled
	sale.Version++
	return sale, nil
}

// GetByID retrieves a sale.
func (s *counterSaleService) GetByID(ctx context.Context, id uuid.UUID) (*model.CounterSale, error) {
	sale, err := s.saleRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("sale_id", id.String()).Msg("failed to get sale")
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	if sale == nil {
		return nil, model.ErrSaleNotFound
	}
	return sale, nil
}

// List lists sales newest first.
func (s *counterSaleService) List(ctx context.Context, filter model.SaleFilter) ([]model.CounterSale, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, model.NewValidationError("invalid status filter", map[string]string{"status": "is not a known sale status"})
	}
	filter.Limit, filter.Offset = normalisePage(filter.Limit, filter.Offset)

	sales, err := s.saleRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list sales")
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, nil
}
