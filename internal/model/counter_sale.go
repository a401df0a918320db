package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus is the lifecycle state of an in-person sale.
type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SalePaid      SaleStatus = "paid"
	SaleCancelled SaleStatus = "cancelled"
)

// Valid reports whether s is a known sale status.
func (s SaleStatus) Valid() bool {
	return s == SalePending || s == SalePaid || s == SaleCancelled
}

// Customer identifies a walk-in buyer; no account is required.
type Customer struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"required,max=40"`
}

// SalePayment is one entry in a counter sale's append-only payment ledger.
type SalePayment struct {
	ID     uuid.UUID       `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	PaidAt time.Time       `json:"paidAt"`
	Note   *string         `json:"note,omitempty"`
}

// CounterSale is an in-person sale paid in one or more instalments.
type CounterSale struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Customer  Customer        `json:"customer" db:"customer"`
	Items     []LineItem      `json:"items" db:"items"`
	Total     decimal.Decimal `json:"total" db:"total"`
	TotalPaid decimal.Decimal `json:"totalPaid" db:"total_paid"`
	Payments  []SalePayment   `json:"payments" db:"payments"`
	Status    SaleStatus      `json:"status" db:"status"`
	Notes     *string         `json:"notes,omitempty" db:"notes"`
	Version   int             `json:"-" db:"version"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// StockChanges lists the quantities this sale moved through the ledger.
func (s *CounterSale) StockChanges() []StockChange {
	return lineItemChanges(s.Items)
}

// SumPayments recomputes the amount paid from the payment ledger.
func (s *CounterSale) SumPayments() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range s.Payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// Remaining is what is still owed.
func (s *CounterSale) Remaining() decimal.Decimal {
	return s.Total.Sub(s.TotalPaid)
}

// CheckInvariants verifies the payment ledger before the sale is persisted.
func (s *CounterSale) CheckInvariants() error {
	if !s.TotalPaid.Equal(s.SumPayments()) {
		return NewInconsistencyError("total paid does not match the payment ledger")
	}
	if s.TotalPaid.GreaterThan(s.Total) {
		return NewInconsistencyError("total paid exceeds the sale total")
	}
	return nil
}

// CounterSaleRequest is the back-office payload for registering a sale.
type CounterSaleRequest struct {
	Customer       Customer         `json:"customer"`
	Items          []ItemRequest    `json:"items" validate:"required,min=1,max=50,dive"`
	InitialPayment *decimal.Decimal `json:"initialPayment,omitempty" validate:"omitempty,gte=0"`
	Notes          *string          `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// PaymentRequest records an instalment against a counter sale.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Note   *string         `json:"note,omitempty" validate:"omitempty,max=200"`
}

// PaymentResponse reports the sale balance after a payment.
type PaymentResponse struct {
	SaleID    uuid.UUID       `json:"saleId"`
	TotalPaid decimal.Decimal `json:"totalPaid"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    SaleStatus      `json:"status"`
}

// SaleFilter narrows counter sale listings.
type SaleFilter struct {
	Status *SaleStatus
	Limit  int
	Offset int
}
