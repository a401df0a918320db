package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bikeshop/internal/model"
	"bikeshop/internal/payment"
	"bikeshop/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type reconcileFixture struct {
	products *fakeProductRepo
	orders   *fakeOrderRepo
	gateway  *MockGateway
	svc      ReconciliationService
}

func newReconcileFixture(products ...model.Product) *reconcileFixture {
	f := &reconcileFixture{
		products: newFakeProductRepo(products...),
		orders:   newFakeOrderRepo(),
		gateway:  new(MockGateway),
	}
	f.svc = NewReconciliationService(f.orders, NewStockLedger(f.products, zerolog.Nop()), f.gateway, zerolog.Nop())
	return f
}

func (f *reconcileFixture) pendingOrder(t *testing.T, items ...model.LineItem) *model.Order {
	t.Helper()
	order := &model.Order{
		ID:        uuid.New(),
		UserID:    "user-1",
		Items:     items,
		Status:    model.OrderPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.orders.Create(context.Background(), order))
	return order
}

func (f *reconcileFixture) payment(paymentID string, status payment.Status, orderID uuid.UUID) {
	f.gateway.On("GetPaymentStatus", mock.Anything, paymentID).Return(&payment.PaymentInfo{
		ID:                paymentID,
		Status:            status,
		RawStatus:         string(status),
		ExternalReference: orderID.String(),
	}, nil)
}

func line(productID string, qty int) model.LineItem {
	return model.LineItem{ProductID: productID, Name: "Product " + productID, UnitPrice: decimal.NewFromInt(1000), Quantity: qty}
}

func TestReconciliation_ApprovedTwiceDeductsOnce(t *testing.T) {
	f := newReconcileFixture(product("P1", 1000, 3))
	order := f.pendingOrder(t, line("P1", 2))
	f.payment("pay-1", payment.StatusApproved, order.ID)
	ctx := context.Background()

	outcome, err := f.svc.HandlePayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = f.svc.HandlePayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, 1, f.products.stock("P1"))
	got := f.orders.get(order.ID)
	assert.Equal(t, model.OrderPaid, got.Status)
	assert.True(t, got.StockDeducted)
	require.NotNil(t, got.GatewayPaymentID)
	assert.Equal(t, "pay-1", *got.GatewayPaymentID)
}

func TestReconciliation_ConcurrentApprovalsDeductOnce(t *testing.T) {
	f := newReconcileFixture(product("P1", 1000, 10))
	order := f.pendingOrder(t, line("P1", 2))
	f.payment("pay-1", payment.StatusApproved, order.ID)

	var mu sync.Mutex
	outcomes := map[Outcome]int{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.svc.HandlePayment(context.Background(), "pay-1")
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeApplied])
	assert.Equal(t, 7, outcomes[OutcomeDuplicate])
	assert.Equal(t, 8, f.products.stock("P1"))
}

func TestReconciliation_StockShortfall(t *testing.T) {
	f := newReconcileFixture(product("P1", 1000, 5), product("P2", 1000, 0))
	order := f.pendingOrder(t, line("P1", 2), line("P2", 1))
	f.payment("pay-1", payment.StatusApproved, order.ID)

	outcome, err := f.svc.HandlePayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeShortfall, outcome)
	got := f.orders.get(order.ID)
	assert.Equal(t, model.OrderPaid, got.Status)
	assert.True(t, got.StockShortfall)
	assert.False(t, got.StockDeducted)
	assert.Equal(t, 5, f.products.stock("P1"), "partial deduction is compensated")
}

func TestReconciliation_StorageFailureReleasesClaim(t *testing.T) {
	f := newReconcileFixture(product("P1", 1000, 5))
	f.products.failDecrement["P1"] = errors.New("connection reset")
	order := f.pendingOrder(t, line("P1", 2))
	f.payment("pay-1", payment.StatusApproved, order.ID)
	ctx := context.Background()

	_, err := f.svc.HandlePayment(ctx, "pay-1")

	require.Error(t, err)
	assert.Equal(t, 1, f.orders.releaseCalls)
	got := f.orders.get(order.ID)
	assert.Equal(t, model.OrderPending, got.Status)
	assert.False(t, got.StockDeducted)

	// The gateway redelivers once storage recovers.
	delete(f.products.failDecrement, "P1")
	outcome, err := f.svc.HandlePayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 3, f.products.stock("P1"))
}

func TestReconciliation_ApprovedForCancelledOrder(t *testing.T) {
	f := newReconcileFixture(product("P1", 1000, 5))
	order := f.pendingOrder(t, line("P1", 2))
	_, err := f.orders.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	f.payment("pay-1", payment.StatusApproved, order.ID)

	outcome, err := f.svc.HandlePayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, model.OrderCancelled, f.orders.get(order.ID).Status)
	assert.Equal(t, 5, f.products.stock("P1"))
}

func TestReconciliation_Rejected(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels a pending order without touching stock", func(t *testing.T) {
		f := newReconcileFixture(product("P1", 1000, 5))
		order := f.pendingOrder(t, line("P1", 2))
		f.payment("pay-1", payment.StatusRejected, order.ID)

		outcome, err := f.svc.HandlePayment(ctx, "pay-1")

		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, outcome)
		assert.Equal(t, model.OrderCancelled, f.orders.get(order.ID).Status)
		assert.Equal(t, 5, f.products.stock("P1"))
	})

	t.Run("cancellation of the paying payment restores stock once", func(t *testing.T) {
		f := newReconcileFixture(product("P1", 1000, 5))
		order := f.pendingOrder(t, line("P1", 2))
		f.payment("pay-1", payment.StatusApproved, order.ID)
		outcome, err := f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome)
		require.Equal(t, 3, f.products.stock("P1"))

		f.gateway.ExpectedCalls = nil
		f.payment("pay-1", payment.StatusCancelled, order.ID)

		outcome, err = f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, outcome)
		assert.Equal(t, 5, f.products.stock("P1"))

		outcome, err = f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)
		assert.Equal(t, 5, f.products.stock("P1"))
	})

	t.Run("stale rejection does not undo another payment", func(t *testing.T) {
		f := newReconcileFixture(product("P1", 1000, 5))
		order := f.pendingOrder(t, line("P1", 2))
		f.payment("pay-2", payment.StatusApproved, order.ID)
		f.payment("pay-1", payment.StatusRejected, order.ID)

		outcome, err := f.svc.HandlePayment(ctx, "pay-2")
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome)

		outcome, err = f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)
		assert.Equal(t, model.OrderPaid, f.orders.get(order.ID).Status)
		assert.Equal(t, 3, f.products.stock("P1"))
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newReconcileFixture()
		f.payment("pay-1", payment.StatusRejected, uuid.New())

		outcome, err := f.svc.HandlePayment(ctx, "pay-1")

		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	})
}

func TestReconciliation_Ignored(t *testing.T) {
	ctx := context.Background()

	t.Run("empty payment id", func(t *testing.T) {
		f := newReconcileFixture()
		outcome, err := f.svc.HandlePayment(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		f.gateway.AssertNotCalled(t, "GetPaymentStatus", mock.Anything, mock.Anything)
	})

	t.Run("payment unknown to the gateway", func(t *testing.T) {
		f := newReconcileFixture()
		f.gateway.On("GetPaymentStatus", mock.Anything, "pay-x").Return(nil, payment.ErrPaymentNotFound)
		outcome, err := f.svc.HandlePayment(ctx, "pay-x")
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	})

	t.Run("external reference is not an order", func(t *testing.T) {
		f := newReconcileFixture()
		f.gateway.On("GetPaymentStatus", mock.Anything, "pay-1").Return(&payment.PaymentInfo{
			ID: "pay-1", Status: payment.StatusApproved, ExternalReference: "legacy-42",
		}, nil)
		outcome, err := f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	})

	t.Run("pending payment", func(t *testing.T) {
		f := newReconcileFixture(product("P1", 1000, 5))
		order := f.pendingOrder(t, line("P1", 1))
		f.payment("pay-1", payment.StatusPending, order.ID)
		outcome, err := f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		assert.Equal(t, model.OrderPending, f.orders.get(order.ID).Status)
	})

	t.Run("approved for unknown order", func(t *testing.T) {
		f := newReconcileFixture()
		f.payment("pay-1", payment.StatusApproved, uuid.New())
		outcome, err := f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	})
}

func TestReconciliation_GatewayFailureIsRetryable(t *testing.T) {
	f := newReconcileFixture()
	f.gateway.On("GetPaymentStatus", mock.Anything, "pay-1").Return(nil, errors.New("503 from gateway"))

	_, err := f.svc.HandlePayment(context.Background(), "pay-1")

	require.Error(t, err)
	assert.Equal(t, model.KindExternal, model.KindOf(err))
}

func TestReconciliation_ShortfallRecordFailureReleasesClaim(t *testing.T) {
	orders := new(MockOrderRepository)
	products := newFakeProductRepo(product("P1", 1000, 0))
	gateway := new(MockGateway)
	svc := NewReconciliationService(orders, NewStockLedger(products, zerolog.Nop()), gateway, zerolog.Nop())

	id := uuid.New()
	gateway.On("GetPaymentStatus", mock.Anything, "pay-1").Return(&payment.PaymentInfo{
		ID: "pay-1", Status: payment.StatusApproved, ExternalReference: id.String(),
	}, nil)
	orders.On("ClaimPayment", mock.Anything, id, "pay-1").Return(true, nil)
	orders.On("GetByID", mock.Anything, id).Return(&model.Order{ID: id, Status: model.OrderPaid, Items: []model.LineItem{line("P1", 1)}}, nil)
	orders.On("RecordStockShortfall", mock.Anything, id).Return(errors.New("db down"))
	orders.On("ReleasePaymentClaim", mock.Anything, id).Return(nil)

	_, err := svc.HandlePayment(context.Background(), "pay-1")

	require.Error(t, err)
	orders.AssertExpectations(t)
	orders.AssertNotCalled(t, "CancelByGateway", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciliation_RestoreFailureAfterCancelIsNotRetried(t *testing.T) {
	orders := new(MockOrderRepository)
	products := newFakeProductRepo()
	gateway := new(MockGateway)
	svc := NewReconciliationService(orders, NewStockLedger(products, zerolog.Nop()), gateway, zerolog.Nop())

	id := uuid.New()
	gateway.On("GetPaymentStatus", mock.Anything, "pay-1").Return(&payment.PaymentInfo{
		ID: "pay-1", Status: payment.StatusCancelled, ExternalReference: id.String(),
	}, nil)
	orders.On("CancelByGateway", mock.Anything, id, "pay-1").Return(repository.CancelResult{Applied: true, RestoreStock: true}, nil)
	orders.On("GetByID", mock.Anything, id).Return(&model.Order{ID: id, Items: []model.LineItem{line("deleted", 1)}}, nil)

	outcome, err := svc.HandlePayment(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)
}

func TestReconciliation_StaffCancelDuringDeduction(t *testing.T) {
	ctx := context.Background()

	newRace := func(products ...model.Product) (*reconcileFixture, OrderService) {
		f := newReconcileFixture(products...)
		orders := NewOrderService(f.orders, f.products, NewStockLedger(f.products, zerolog.Nop()), f.gateway, testSettings, zerolog.Nop())
		return f, orders
	}

	t.Run("units taken for a cancelled order are handed back", func(t *testing.T) {
		f, orders := newRace(product("P1", 1000, 3))
		order := f.pendingOrder(t, line("P1", 2))
		f.payment("pay-1", payment.StatusApproved, order.ID)
		f.products.beforeDecrement = func() {
			_, err := orders.UpdateStatus(ctx, order.ID, model.OrderCancelled)
			require.NoError(t, err)
		}

		outcome, err := f.svc.HandlePayment(ctx, "pay-1")

		require.NoError(t, err)
		assert.Equal(t, OutcomeRefundRequired, outcome)
		got := f.orders.get(order.ID)
		assert.Equal(t, model.OrderCancelled, got.Status)
		assert.False(t, got.StockDeducted)
		assert.False(t, got.StockRestored, "the cancellation had nothing to restore")
		assert.Equal(t, 3, f.products.stock("P1"))
	})

	t.Run("storage failure leaves stock untouched", func(t *testing.T) {
		f, orders := newRace(product("P1", 1000, 3), product("P2", 1000, 3))
		f.products.failDecrement["P2"] = errors.New("connection reset")
		order := f.pendingOrder(t, line("P1", 1), line("P2", 1))
		f.payment("pay-1", payment.StatusApproved, order.ID)
		f.products.beforeDecrement = func() {
			_, err := orders.UpdateStatus(ctx, order.ID, model.OrderCancelled)
			require.NoError(t, err)
		}

		_, err := f.svc.HandlePayment(ctx, "pay-1")

		require.Error(t, err)
		assert.Equal(t, model.OrderCancelled, f.orders.get(order.ID).Status)
		assert.Equal(t, 3, f.products.stock("P1"))
		assert.Equal(t, 3, f.products.stock("P2"))

		// The redelivered callback finds a cancelled order and leaves stock alone.
		delete(f.products.failDecrement, "P2")
		outcome, err := f.svc.HandlePayment(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)
		assert.Equal(t, 3, f.products.stock("P1"))
		assert.Equal(t, 3, f.products.stock("P2"))
	})

	t.Run("shortfall leaves stock untouched", func(t *testing.T) {
		f, orders := newRace(product("P1", 1000, 3), product("P2", 1000, 0))
		order := f.pendingOrder(t, line("P1", 1), line("P2", 1))
		f.payment("pay-1", payment.StatusApproved, order.ID)
		f.products.beforeDecrement = func() {
			_, err := orders.UpdateStatus(ctx, order.ID, model.OrderCancelled)
			require.NoError(t, err)
		}

		outcome, err := f.svc.HandlePayment(ctx, "pay-1")

		require.NoError(t, err)
		assert.Equal(t, OutcomeRefundRequired, outcome)
		assert.Equal(t, model.OrderCancelled, f.orders.get(order.ID).Status)
		assert.Equal(t, 3, f.products.stock("P1"))
	})
}

func TestReconciliation_MarkFailureHandsStockBack(t *testing.T) {
	orders := new(MockOrderRepository)
	products := newFakeProductRepo(product("P1", 1000, 3))
	gateway := new(MockGateway)
	svc := NewReconciliationService(orders, NewStockLedger(products, zerolog.Nop()), gateway, zerolog.Nop())

	id := uuid.New()
	gateway.On("GetPaymentStatus", mock.Anything, "pay-1").Return(&payment.PaymentInfo{
		ID: "pay-1", Status: payment.StatusApproved, ExternalReference: id.String(),
	}, nil)
	orders.On("ClaimPayment", mock.Anything, id, "pay-1").Return(true, nil)
	orders.On("GetByID", mock.Anything, id).Return(&model.Order{ID: id, Status: model.OrderPaid, Items: []model.LineItem{line("P1", 2)}}, nil)
	orders.On("MarkStockDeducted", mock.Anything, id).Return(false, errors.New("db down"))
	orders.On("ReleasePaymentClaim", mock.Anything, id).Return(nil)

	_, err := svc.HandlePayment(context.Background(), "pay-1")

	require.Error(t, err)
	assert.Equal(t, 3, products.stock("P1"))
	orders.AssertExpectations(t)
}
