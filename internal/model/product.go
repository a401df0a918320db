package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog's view of a saleable bicycle, part or accessory.
// Stock is only ever changed through the stock ledger.
type Product struct {
	ID            string           `json:"id" db:"id"`
	Name          string           `json:"name" db:"name"`
	ImageURL      string           `json:"imageUrl" db:"image_url"`
	Category      string           `json:"category" db:"category"`
	Price         decimal.Decimal  `json:"price" db:"price"`
	DiscountPrice *decimal.Decimal `json:"discountPrice,omitempty" db:"discount_price"`
	CostPrice     decimal.Decimal  `json:"-" db:"cost_price"`
	Stock         int              `json:"stock" db:"stock"`
	Active        bool             `json:"active" db:"active"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// SalePrice is the unit price a buyer pays right now.
func (p *Product) SalePrice() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// StockChange is one product/quantity pair moved through the stock ledger.
type StockChange struct {
	ProductID string
	Quantity  int
}
