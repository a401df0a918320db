package service

import (
	"context"
	"fmt"
	"time"

	"bikeshop/internal/model"
	"bikeshop/internal/payment"
	"bikeshop/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	paymentMethodGateway = "mercadopago"
	stalePendingLimit    = 200
)

// CheckoutSettings configures how payment intents are built.
type CheckoutSettings struct {
	// AppBaseURL is the public storefront URL, without a trailing slash.
	AppBaseURL string
	Currency   string
	// StalePendingAfter is the default age after which a pending order is
	// reported for manual reconciliation.
	StalePendingAfter time.Duration
}

// orderService implements OrderService.
type orderService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	ledger      *StockLedger
	gateway     payment.Gateway
	settings    CheckoutSettings
	logger      zerolog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	ledger *StockLedger,
	gateway payment.Gateway,
	settings CheckoutSettings,
	logger zerolog.Logger,
) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		ledger:      ledger,
		gateway:     gateway,
		settings:    settings,
		logger:      logger.With().Str("service", "order").Logger(),
	}
}

// Checkout creates a pending order and a gateway payment intent for it.
func (s *orderService) Checkout(ctx context.Context, userID string, req *model.CheckoutRequest) (*model.CheckoutResponse, error) {
	if userID == "" {
		return nil, model.NewValidationError("buyer identity is required", map[string]string{"userId": "is required"})
	}
	if err := model.Validate(req); err != nil {
		return nil, err
	}

	items, total, err := priceItems(ctx, s.productRepo, req.Items)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("checkout rejected")
		return nil, err
	}

	now := time.Now().UTC()
	order := &model.Order{
		ID:              uuid.New(),
		UserID:          userID,
		Items:           items,
		Subtotal:        total,
		Total:           total,
		Status:          model.OrderPending,
		PaymentMethod:   paymentMethodGateway,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		StockDeducted:   false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to create order")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, s.intentFor(order))
	if err != nil {
		// The order stays pending and holds no stock; it shows up in the
		// stale pending report if the buyer never retries.
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to create payment intent")
		return nil, model.NewExternalError("payment gateway is unavailable, please retry", err)
	}

	if err := s.orderRepo.SetPreferenceID(ctx, order.ID, intent.ID); err != nil {
		s.logger.Warn().Err(err).
			Str("order_id", order.ID.String()).
			Str("preference_id", intent.ID).
			Msg("order created without stored preference id")
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("user_id", userID).
		Int("item_count", len(items)).
		Str("total", total.String()).
		Msg("order created")

	return &model.CheckoutResponse{OrderID: order.ID, RedirectURL: intent.RedirectURL}, nil
}

func (s *orderService) intentFor(order *model.Order) payment.IntentRequest {
	items := make([]payment.IntentItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = payment.IntentItem{
			ID:        item.ProductID,
			Title:     item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	returnURL := s.settings.AppBaseURL + "/cuenta/pedidos?status="
	return payment.IntentRequest{
		Items: items,
		BackURLs: payment.BackURLs{
			Success: returnURL + "success",
			Failure: returnURL + "failure",
			Pending: returnURL + "pending",
		},
		ExternalReference: order.ID.String(),
		NotificationURL:   s.settings.AppBaseURL + "/api/webhook",
		Currency:          s.settings.Currency,
	}
}

// GetForUser retrieves an order owned by userID. Orders of other buyers are
// reported as not found.
func (s *orderService) GetForUser(ctx context.Context, userID string, id uuid.UUID) (*model.Order, error) {
	order, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		s.logger.Warn().Str("order_id", id.String()).Str("user_id", userID).Msg("order requested by another user")
		return nil, model.ErrOrderNotFound
	}
	return order, nil
}

// ListForUser lists the orders owned by userID.
func (s *orderService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Order, error) {
	return s.List(ctx, model.OrderFilter{UserID: &userID, Limit: limit, Offset: offset})
}

// GetByID retrieves any order.
func (s *orderService) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to get order")
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, model.ErrOrderNotFound
	}
	return order, nil
}

// List lists orders newest first.
func (s *orderService) List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, model.NewValidationError("invalid status filter", map[string]string{"status": "is not a known order status"})
	}
	filter.Limit, filter.Offset = normalisePage(filter.Limit, filter.Offset)

	orders, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list orders")
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus applies a staff transition as a conditional write on the
// order's current status.
func (s *orderService) UpdateStatus(ctx context.Context, id uuid.UUID, to model.OrderStatus) (*model.Order, error) {
	switch to {
	case model.OrderShipped, model.OrderDelivered, model.OrderCancelled:
	default:
		return nil, model.NewValidationError("status cannot be set by staff",
			map[string]string{"status": "must be one of shipped delivered cancelled"})
	}

	order, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if to == model.OrderCancelled {
		return s.cancel(ctx, order)
	}

	if !order.Status.CanTransitionTo(to) {
		return nil, model.Errorf(model.ErrInvalidTransition, "cannot move order from %s to %s", order.Status, to)
	}

	applied, err := s.orderRepo.Transition(ctx, id, model.SourcesOf(to), to)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if !applied {
		s.logger.Info().Str("order_id", id.String()).Str("to", string(to)).Msg("order changed concurrently")
		return nil, model.Errorf(model.ErrInvalidTransition, "order is no longer %s", order.Status)
	}

	s.logger.Info().
		Str("order_id", id.String()).
		Str("from", string(order.Status)).
		Str("to", string(to)).
		Msg("order status updated")

	return s.GetByID(ctx, id)
}

func (s *orderService) cancel(ctx context.Context, order *model.Order) (*model.Order, error) {
	if order.Status == model.OrderCancelled {
		return nil, model.Errorf(model.ErrAlreadyCancelled, "order %s is already cancelled", order.ID)
	}
	if !order.Status.CanTransitionTo(model.OrderCancelled) {
		return nil, model.Errorf(model.ErrInvalidTransition, "cannot cancel a %s order", order.Status)
	}

	res, err := s.orderRepo.Cancel(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	if !res.Applied {
		return nil, model.Errorf(model.ErrInvalidTransition, "order is no longer %s", order.Status)
	}

	if res.RestoreStock {
		if err := s.ledger.RestoreAll(ctx, order.StockChanges()); err != nil {
			s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("order cancelled but stock restore incomplete")
			return nil, fmt.Errorf("order cancelled but stock restore incomplete: %w", err)
		}
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("from", string(order.Status)).
		Bool("stock_restored", res.RestoreStock).
		Msg("order cancelled by staff")

	return s.GetByID(ctx, order.ID)
}

// ListStalePending reports pending orders that never got a payment callback.
func (s *orderService) ListStalePending(ctx context.Context, olderThan time.Duration) ([]model.Order, error) {
	if olderThan <= 0 {
		olderThan = s.settings.StalePendingAfter
	}
	cutoff := time.Now().Add(-olderThan)

	orders, err := s.orderRepo.ListStalePending(ctx, cutoff, stalePendingLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list stale pending orders")
		return nil, fmt.Errorf("failed to list stale pending orders: %w", err)
	}

	if len(orders) > 0 {
		s.logger.Warn().
			Int("count", len(orders)).
			Dur("older_than", olderThan).
			Msg("pending orders awaiting payment confirmation")
	}

	return orders, nil
}
