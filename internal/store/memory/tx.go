package memory

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/store"
)

// memTx works on the private copy made by WithTx; the store lock is held for
// its whole life, so it needs no locking of its own.
type memTx struct {
	st *state
}

func (t *memTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	product, exists := t.st.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(product)
	return &dup, nil
}

func (t *memTx) UpdateProductCost(_ context.Context, id string, avgCost decimal.Decimal, avgCostQty int64) error {
	product, exists := t.st.products[id]
	if !exists {
		return store.ErrNotFound
	}
	product.AvgCost = avgCost
	product.AvgCostQty = avgCostQty
	t.st.products[id] = product
	return nil
}

func (t *memTx) ListUnits(_ context.Context, productID string, status string) ([]domain.ProductUnit, error) {
	return filterUnits(t.st, productID, status), nil
}

func (t *memTx) GetUnit(_ context.Context, id string) (*domain.ProductUnit, error) {
	unit, exists := t.st.units[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &unit, nil
}

func (t *memTx) InsertUnit(_ context.Context, unit domain.ProductUnit) error {
	if unit.ID == "" || unit.ProductID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := t.st.units[unit.ID]; exists {
		return store.ErrConflict
	}
	t.st.units[unit.ID] = unit
	return nil
}

func (t *memTx) UpdateUnit(_ context.Context, unit domain.ProductUnit) error {
	if _, exists := t.st.units[unit.ID]; !exists {
		return store.ErrNotFound
	}
	t.st.units[unit.ID] = unit
	return nil
}

func (t *memTx) DeleteUnit(_ context.Context, id string) error {
	if _, exists := t.st.units[id]; !exists {
		return store.ErrNotFound
	}
	delete(t.st.units, id)
	return nil
}

func (t *memTx) ListEligibleBackorders(_ context.Context, productID string) ([]domain.Backorder, error) {
	result := make([]domain.Backorder, 0, 4)
	for _, b := range t.st.backorders {
		if b.ProductID == productID && b.Eligible() {
			result = append(result, b)
		}
	}
	slices.SortFunc(result, compareBackorderFIFO)
	return result, nil
}

func (t *memTx) GetBackorder(_ context.Context, id string) (*domain.Backorder, error) {
	b, exists := t.st.backorders[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) InsertBackorder(_ context.Context, backorder domain.Backorder) error {
	if backorder.ID == "" || backorder.ProductID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := t.st.backorders[backorder.ID]; exists {
		return store.ErrConflict
	}
	t.st.backorders[backorder.ID] = backorder
	return nil
}

func (t *memTx) UpdateBackorder(_ context.Context, backorder domain.Backorder) error {
	if _, exists := t.st.backorders[backorder.ID]; !exists {
		return store.ErrNotFound
	}
	t.st.backorders[backorder.ID] = backorder
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	order, exists := t.st.orders[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	order.Items = nil
	return &order, nil
}

func (t *memTx) InsertOrder(_ context.Context, order domain.Order) error {
	if order.ID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := t.st.orders[order.ID]; exists {
		return store.ErrConflict
	}
	order.Items = nil
	t.st.orders[order.ID] = order
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.st.orders[order.ID]; !exists {
		return store.ErrNotFound
	}
	order.Items = nil
	t.st.orders[order.ID] = order
	return nil
}

func (t *memTx) GetOrderItem(_ context.Context, id string) (*domain.OrderItem, error) {
	item, exists := t.st.orderItems[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneOrderItem(item)
	return &dup, nil
}

func (t *memTx) InsertOrderItem(_ context.Context, item domain.OrderItem) error {
	if item.ID == "" || item.OrderID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := t.st.orders[item.OrderID]; !exists {
		return store.ErrNotFound
	}
	if _, exists := t.st.orderItems[item.ID]; exists {
		return store.ErrConflict
	}
	t.st.orderItems[item.ID] = cloneOrderItem(item)
	return nil
}

func (t *memTx) UpdateOrderItem(_ context.Context, item domain.OrderItem) error {
	if _, exists := t.st.orderItems[item.ID]; !exists {
		return store.ErrNotFound
	}
	t.st.orderItems[item.ID] = cloneOrderItem(item)
	return nil
}

func (t *memTx) ListOrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	return orderItems(t.st, orderID), nil
}

func (t *memTx) NextCounter(_ context.Context, name string) (int64, error) {
	if name == "" {
		return 0, store.ErrInvalidInput
	}
	t.st.counters[name]++
	return t.st.counters[name], nil
}
