package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an online order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// orderTransitions lists every edge of the order state machine.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPaid, OrderCancelled},
	OrderPaid:    {OrderShipped, OrderCancelled},
	OrderShipped: {OrderDelivered},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPaid, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// CanTransitionTo reports whether the state machine has an edge s -> to.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns the states from which to is reachable in one step.
func SourcesOf(to OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, s := range []OrderStatus{OrderPending, OrderPaid, OrderShipped} {
		if s.CanTransitionTo(to) {
			from = append(from, s)
		}
	}
	return from
}

// Order represents one online checkout.
type Order struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	UserID              string          `json:"userId" db:"user_id"`
	Items               []LineItem      `json:"items" db:"items"`
	Subtotal            decimal.Decimal `json:"subtotal" db:"subtotal"`
	Total               decimal.Decimal `json:"total" db:"total"`
	Status              OrderStatus     `json:"status" db:"status"`
	PaymentMethod       string          `json:"paymentMethod" db:"payment_method"`
	GatewayPaymentID    *string         `json:"gatewayPaymentId,omitempty" db:"gateway_payment_id"`
	GatewayPreferenceID *string         `json:"gatewayPreferenceId,omitempty" db:"gateway_preference_id"`
	ShippingAddress     ShippingAddress `json:"shippingAddress" db:"shipping_address"`
	Notes               *string         `json:"notes,omitempty" db:"notes"`
	StockDeducted       bool            `json:"stockDeducted" db:"stock_deducted"`
	StockRestored       bool            `json:"stockRestored" db:"stock_restored"`
	StockShortfall      bool            `json:"stockShortfall" db:"stock_shortfall"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time       `json:"updatedAt" db:"updated_at"`
}

// StockChanges lists the quantities this order moves through the ledger.
func (o *Order) StockChanges() []StockChange {
	return lineItemChanges(o.Items)
}

// LineItem snapshots a product as it was when it was bought.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"imageUrl"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unitCost"`
}

// Subtotal is unit price times quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func lineItemChanges(items []LineItem) []StockChange {
	changes := make([]StockChange, len(items))
	for i, item := range items {
		changes[i] = StockChange{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return changes
}

// ShippingAddress is a denormalised copy of the delivery address.
type ShippingAddress struct {
	Name       string `json:"name" validate:"required,max=120"`
	Street     string `json:"street" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=120"`
	Province   string `json:"province" validate:"required,max=120"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Phone      string `json:"phone" validate:"required,max=40"`
}

// CheckoutRequest represents the request payload for creating an order.
type CheckoutRequest struct {
	Items           []ItemRequest   `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	Notes           *string         `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// ItemRequest represents a single requested line item. Client prices are ignored.
type ItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

// UnmarshalJSON accepts "qty" as a short form of "quantity".
func (i *ItemRequest) UnmarshalJSON(data []byte) error {
	type plain ItemRequest
	var aux struct {
		plain
		Qty *int `json:"qty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*i = ItemRequest(aux.plain)
	if i.Quantity == 0 && aux.Qty != nil {
		i.Quantity = *aux.Qty
	}
	return nil
}

// CheckoutResponse is returned once the order exists and the gateway has issued
// a payment redirect.
type CheckoutResponse struct {
	OrderID     uuid.UUID `json:"orderId"`
	RedirectURL string    `json:"redirectUrl"`
}

// StatusUpdateRequest is a staff-driven order status change.
type StatusUpdateRequest struct {
	Status OrderStatus `json:"status" validate:"required,oneof=shipped delivered cancelled"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status *OrderStatus
	UserID *string
	Limit  int
	Offset int
}
