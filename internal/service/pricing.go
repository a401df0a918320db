package service

import (
	"context"
	"fmt"

	"bikeshop/internal/model"
	"bikeshop/internal/repository"

	"github.com/shopspring/decimal"
)

// priceItems re-reads every requested product and snapshots name, image,
// sale price and cost into line items. Client-supplied prices never reach
// this point. Stock is checked against the total requested per product but
// not reserved.
func priceItems(ctx context.Context, products repository.ProductRepository, req []model.ItemRequest) ([]model.LineItem, decimal.Decimal, error) {
	ids := make([]string, 0, len(req))
	requested := make(map[string]int, len(req))
	for _, item := range req {
		if _, seen := requested[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	found, err := products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[string]model.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, decimal.Zero, model.Errorf(model.ErrProductNotFound, "product %s not found", id)
		}
		if !p.Active {
			return nil, decimal.Zero, model.Errorf(model.ErrProductInactive, "product %q is not available", p.Name)
		}
		if p.Stock < requested[id] {
			return nil, decimal.Zero, model.Errorf(model.ErrInsufficientStock,
				"insufficient stock for %q: %d available, %d requested", p.Name, p.Stock, requested[id])
		}
	}

	items := make([]model.LineItem, len(req))
	total := decimal.Zero
	for i, r := range req {
		p := byID[r.ProductID]
		items[i] = model.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			UnitPrice: p.SalePrice(),
			Quantity:  r.Quantity,
			UnitCost:  p.CostPrice,
		}
		total = total.Add(items[i].Subtotal())
	}

	return items, total, nil
}
