package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"bikeshop/internal/model"
	"bikeshop/internal/payment"
	"bikeshop/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// fakeProductRepo is an in-memory ProductRepository with the same
// conditional-update semantics as the SQL implementation.
type fakeProductRepo struct {
	mu       sync.Mutex
	products map[string]*model.Product
	// failDecrement makes TryDecrementStock fail for the given product.
	failDecrement map[string]error
	increments    []model.StockChange
	// beforeDecrement runs once, unlocked, ahead of the next TryDecrementStock.
	beforeDecrement func()
}

func newFakeProductRepo(products ...model.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: map[string]*model.Product{}, failDecrement: map[string]error{}}
	for _, p := range products {
		p := p
		r.products[p.ID] = &p
	}
	return r
}

func (r *fakeProductRepo) GetAll(ctx context.Context, limit, offset int) ([]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Product
	for _, p := range r.products {
		if p.Active {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if offset >= len(out) {
		return []model.Product{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeProductRepo) GetByID(ctx context.Context, id string) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProductRepo) GetByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Product{}
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakeProductRepo) TryDecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	r.mu.Lock()
	hook := r.beforeDecrement
	r.beforeDecrement = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failDecrement[id]; err != nil {
		return false, err
	}
	p, ok := r.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	return true, nil
}

func (r *fakeProductRepo) IncrementStock(ctx context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return model.Errorf(model.ErrProductNotFound, "product %s not found", id)
	}
	p.Stock += qty
	r.increments = append(r.increments, model.StockChange{ProductID: id, Quantity: qty})
	return nil
}

func (r *fakeProductRepo) stock(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].Stock
}

func (r *fakeProductRepo) setStock(id string, stock int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[id].Stock = stock
}

// fakeOrderRepo is an in-memory OrderRepository mirroring the conditional writes.
type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*model.Order
	// releaseCalls counts ReleasePaymentClaim invocations.
	releaseCalls int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[uuid.UUID]*model.Order{}}
}

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *fakeOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (r *fakeOrderRepo) List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Order{}
	for _, o := range r.orders {
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeOrderRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Order{}
	for _, o := range r.orders {
		if o.Status == model.OrderPending && o.CreatedAt.Before(cutoff) {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) SetPreferenceID(ctx context.Context, id uuid.UUID, preferenceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		o.GatewayPreferenceID = &preferenceID
	}
	return nil
}

func (r *fakeOrderRepo) ClaimPayment(ctx context.Context, id uuid.UUID, paymentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.StockDeducted || o.Status != model.OrderPending {
		return false, nil
	}
	o.Status = model.OrderPaid
	o.GatewayPaymentID = &paymentID
	return true, nil
}

func (r *fakeOrderRepo) MarkStockDeducted(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.StockDeducted || o.Status == model.OrderPending || o.Status == model.OrderCancelled {
		return false, nil
	}
	o.StockDeducted = true
	return true, nil
}

func (r *fakeOrderRepo) ReleasePaymentClaim(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseCalls++
	if o, ok := r.orders[id]; ok && o.Status == model.OrderPaid && !o.StockDeducted {
		o.Status = model.OrderPending
	}
	return nil
}

func (r *fakeOrderRepo) RecordStockShortfall(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok && o.Status == model.OrderPaid {
		o.StockShortfall = true
	}
	return nil
}

func (r *fakeOrderRepo) Transition(ctx context.Context, id uuid.UUID, from []model.OrderStatus, to model.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || !slices.Contains(from, o.Status) {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (r *fakeOrderRepo) Cancel(ctx context.Context, id uuid.UUID) (repository.CancelResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || (o.Status != model.OrderPending && o.Status != model.OrderPaid) {
		return repository.CancelResult{}, nil
	}
	o.Status = model.OrderCancelled
	o.StockRestored = o.StockDeducted
	return repository.CancelResult{Applied: true, RestoreStock: o.StockRestored}, nil
}

func (r *fakeOrderRepo) CancelByGateway(ctx context.Context, id uuid.UUID, paymentID string) (repository.CancelResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return repository.CancelResult{}, nil
	}
	paidByThis := o.Status == model.OrderPaid && o.GatewayPaymentID != nil && *o.GatewayPaymentID == paymentID
	if o.Status != model.OrderPending && !paidByThis {
		return repository.CancelResult{}, nil
	}
	o.Status = model.OrderCancelled
	o.GatewayPaymentID = &paymentID
	o.StockRestored = o.StockDeducted
	return repository.CancelResult{Applied: true, RestoreStock: o.StockRestored}, nil
}

func (r *fakeOrderRepo) get(id uuid.UUID) *model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneOrder(r.orders[id])
}

// fakeSaleRepo is an in-memory CounterSaleRepository with version checks.
type fakeSaleRepo struct {
	mu    sync.Mutex
	sales map[uuid.UUID]*model.CounterSale
	// beforeSave runs once before the next SavePayments, outside the lock.
	beforeSave func()
	createErr  error
}

func newFakeSaleRepo() *fakeSaleRepo {
	return &fakeSaleRepo{sales: map[uuid.UUID]*model.CounterSale{}}
}

func cloneSale(s *model.CounterSale) *model.CounterSale {
	cp := *s
	cp.Items = slices.Clone(s.Items)
	cp.Payments = slices.Clone(s.Payments)
	return &cp
}

func (r *fakeSaleRepo) Create(ctx context.Context, sale *model.CounterSale) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (r *fakeSaleRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.CounterSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[id]
	if !ok {
		return nil, nil
	}
	return cloneSale(s), nil
}

func (r *fakeSaleRepo) List(ctx context.Context, filter model.SaleFilter) ([]model.CounterSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.CounterSale{}
	for _, s := range r.sales {
		if filter.Status == nil || s.Status == *filter.Status {
			out = append(out, *cloneSale(s))
		}
	}
	return out, nil
}

func (r *fakeSaleRepo) SavePayments(ctx context.Context, sale *model.CounterSale) (bool, error) {
	if hook := r.beforeSave; hook != nil {
		r.beforeSave = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sales[sale.ID]
	if !ok || stored.Version != sale.Version || stored.Status != model.SalePending {
		return false, nil
	}
	if sale.TotalPaid.GreaterThan(stored.Total) {
		return false, errors.New("check constraint violated: total_paid <= total")
	}
	stored.Payments = slices.Clone(sale.Payments)
	stored.TotalPaid = sale.TotalPaid
	stored.Status = sale.Status
	stored.Version++
	sale.Version = stored.Version
	return true, nil
}

func (r *fakeSaleRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[id]
	if !ok || s.Status == model.SaleCancelled {
		return false, nil
	}
	s.Status = model.SaleCancelled
	s.Version++
	return true, nil
}

// appendPayment records a payment directly, as a concurrent clerk would.
func (r *fakeSaleRepo) appendPayment(id uuid.UUID, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sales[id]
	s.Payments = append(s.Payments, model.SalePayment{ID: uuid.New(), Amount: amount, PaidAt: time.Now()})
	s.TotalPaid = s.SumPayments()
	if s.TotalPaid.GreaterThanOrEqual(s.Total) {
		s.Status = model.SalePaid
	}
	s.Version++
}

// MockGateway is a mock implementation of payment.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Intent), args.Error(1)
}

func (m *MockGateway) GetPaymentStatus(ctx context.Context, paymentID string) (*payment.PaymentInfo, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PaymentInfo), args.Error(1)
}

// MockProductRepository is a mock implementation of ProductRepository.
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetAll(ctx context.Context, limit, offset int) ([]model.Product, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Product), args.Error(1)
}

func (m *MockProductRepository) GetByID(ctx context.Context, id string) (*model.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Product), args.Error(1)
}

func (m *MockProductRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Product), args.Error(1)
}

func (m *MockProductRepository) TryDecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	args := m.Called(ctx, id, qty)
	return args.Bool(0), args.Error(1)
}

func (m *MockProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	args := m.Called(ctx, id, qty)
	return args.Error(0)
}

func product(id string, price int64, stock int) model.Product {
	return model.Product{
		ID:        id,
		Name:      "Product " + id,
		ImageURL:  "https://img.test/" + id + ".jpg",
		Price:     decimal.NewFromInt(price),
		CostPrice: decimal.NewFromInt(price / 2),
		Stock:     stock,
		Active:    true,
	}
}
