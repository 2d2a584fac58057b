package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/store"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pgTx reads with FOR UPDATE so rows touched by an inventory operation stay
// locked until commit.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) UpdateProductCost(ctx context.Context, id string, avgCost decimal.Decimal, avgCostQty int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET avg_cost = $2, avg_cost_qty = $3 WHERE id = $1
	`, id, avgCost, avgCostQty)
	return affectedOne(res, err)
}

const unitColumns = `id, product_id, cost, status, received_at, seq, serial, spot, order_id, order_item_id, backorder_id, sold_at`

func scanUnit(row rowScanner) (domain.ProductUnit, error) {
	var (
		u                                             domain.ProductUnit
		serial, spot, orderID, orderItemID, backorder sql.NullString
		soldAt                                        sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.ProductID, &u.Cost, &u.Status, &u.ReceivedAt, &u.Seq, &serial, &spot, &orderID, &orderItemID, &backorder, &soldAt); err != nil {
		return domain.ProductUnit{}, err
	}
	u.Serial = serial.String
	u.Spot = spot.String
	u.OrderID = orderID.String
	u.OrderItemID = orderItemID.String
	u.BackorderID = backorder.String
	u.ReceivedAt = u.ReceivedAt.UTC()
	if soldAt.Valid {
		at := soldAt.Time.UTC()
		u.SoldAt = &at
	}
	return u, nil
}

func queryUnits(ctx context.Context, q queryer, query string, args ...any) ([]domain.ProductUnit, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]domain.ProductUnit, 0, 16)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func (t *pgTx) ListUnits(ctx context.Context, productID string, status string) ([]domain.ProductUnit, error) {
	return queryUnits(ctx, t.tx, `
		SELECT `+unitColumns+`
		FROM product_units
		WHERE product_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY received_at, seq, id
		FOR UPDATE
	`, productID, status)
}

func (t *pgTx) GetUnit(ctx context.Context, id string) (*domain.ProductUnit, error) {
	u, err := scanUnit(t.tx.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM product_units WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (t *pgTx) InsertUnit(ctx context.Context, u domain.ProductUnit) error {
	if u.ID == "" || u.ProductID == "" {
		return store.ErrInvalidInput
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_units (`+unitColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, u.ID, u.ProductID, u.Cost, u.Status, u.ReceivedAt, u.Seq, nullIfEmpty(u.Serial), nullIfEmpty(u.Spot),
		nullIfEmpty(u.OrderID), nullIfEmpty(u.OrderItemID), nullIfEmpty(u.BackorderID), nullTime(u.SoldAt))
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (t *pgTx) UpdateUnit(ctx context.Context, u domain.ProductUnit) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE product_units
		SET cost = $2, status = $3, serial = $4, spot = $5, order_id = $6, order_item_id = $7, backorder_id = $8, sold_at = $9
		WHERE id = $1
	`, u.ID, u.Cost, u.Status, nullIfEmpty(u.Serial), nullIfEmpty(u.Spot),
		nullIfEmpty(u.OrderID), nullIfEmpty(u.OrderItemID), nullIfEmpty(u.BackorderID), nullTime(u.SoldAt))
	return affectedOne(res, err)
}

func (t *pgTx) DeleteUnit(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM product_units WHERE id = $1`, id)
	return affectedOne(res, err)
}

const backorderColumns = `id, product_id, order_id, order_item_id, requested_qty, fulfilled_qty, status, created_at, seq, updated_at`

func scanBackorder(row rowScanner) (domain.Backorder, error) {
	var b domain.Backorder
	if err := row.Scan(&b.ID, &b.ProductID, &b.OrderID, &b.OrderItemID, &b.RequestedQty, &b.FulfilledQty, &b.Status, &b.CreatedAt, &b.Seq, &b.UpdatedAt); err != nil {
		return domain.Backorder{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func queryBackorders(ctx context.Context, q queryer, query string, args ...any) ([]domain.Backorder, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Backorder, 0, 16)
	for rows.Next() {
		b, err := scanBackorder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *pgTx) ListEligibleBackorders(ctx context.Context, productID string) ([]domain.Backorder, error) {
	return queryBackorders(ctx, t.tx, `
		SELECT `+backorderColumns+`
		FROM backorders
		WHERE product_id = $1
			AND status IN ('open', 'ordered', 'partial')
			AND fulfilled_qty < requested_qty
		ORDER BY created_at, seq, id
		FOR UPDATE
	`, productID)
}

func (t *pgTx) GetBackorder(ctx context.Context, id string) (*domain.Backorder, error) {
	b, err := scanBackorder(t.tx.QueryRowContext(ctx, `SELECT `+backorderColumns+` FROM backorders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (t *pgTx) InsertBackorder(ctx context.Context, b domain.Backorder) error {
	if b.ID == "" || b.ProductID == "" {
		return store.ErrInvalidInput
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO backorders (`+backorderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, b.ID, b.ProductID, b.OrderID, b.OrderItemID, b.RequestedQty, b.FulfilledQty, b.Status, b.CreatedAt, b.Seq, b.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (t *pgTx) UpdateBackorder(ctx context.Context, b domain.Backorder) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE backorders
		SET requested_qty = $2, fulfilled_qty = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, b.ID, b.RequestedQty, b.FulfilledQty, b.Status, b.UpdatedAt)
	return affectedOne(res, err)
}

func getOrder(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT id, status, created_by, created_at, completed_at FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		order       domain.Order
		completedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, id).Scan(&order.ID, &order.Status, &order.CreatedBy, &order.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		order.CompletedAt = &at
	}
	return &order, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return store.ErrInvalidInput
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, created_by, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5)
	`, order.ID, order.Status, order.CreatedBy, order.CreatedAt, nullTime(order.CompletedAt))
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (t *pgTx) UpdateOrder(ctx context.Context, order domain.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, completed_at = $3 WHERE id = $1
	`, order.ID, order.Status, nullTime(order.CompletedAt))
	return affectedOne(res, err)
}

const orderItemColumns = `id, order_id, product_id, qty_ordered, fulfilled_qty, backordered_qty, assigned_unit_ids, backorder_id, created_at`

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item      domain.OrderItem
		assigned  []byte
		backorder sql.NullString
	)
	if err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.QtyOrdered, &item.FulfilledQty, &item.BackorderedQty, &assigned, &backorder, &item.CreatedAt); err != nil {
		return domain.OrderItem{}, err
	}
	item.AssignedUnitIDs = []string{}
	if len(assigned) > 0 {
		if err := json.Unmarshal(assigned, &item.AssignedUnitIDs); err != nil {
			return domain.OrderItem{}, fmt.Errorf("order item %s units: %w", item.ID, err)
		}
	}
	item.BackorderID = backorder.String
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func listOrderItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+orderItemColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (t *pgTx) GetOrderItem(ctx context.Context, id string) (*domain.OrderItem, error) {
	item, err := scanOrderItem(t.tx.QueryRowContext(ctx, `SELECT `+orderItemColumns+` FROM order_items WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (t *pgTx) InsertOrderItem(ctx context.Context, item domain.OrderItem) error {
	if item.ID == "" || item.OrderID == "" {
		return store.ErrInvalidInput
	}
	assigned, err := json.Marshal(nonNilStrings(item.AssignedUnitIDs))
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO order_items (`+orderItemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, item.ID, item.OrderID, item.ProductID, item.QtyOrdered, item.FulfilledQty, item.BackorderedQty, assigned,
		nullIfEmpty(item.BackorderID), item.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (t *pgTx) UpdateOrderItem(ctx context.Context, item domain.OrderItem) error {
	assigned, err := json.Marshal(nonNilStrings(item.AssignedUnitIDs))
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE order_items
		SET fulfilled_qty = $2, backordered_qty = $3, assigned_unit_ids = $4, backorder_id = $5
		WHERE id = $1
	`, item.ID, item.FulfilledQty, item.BackorderedQty, assigned, nullIfEmpty(item.BackorderID))
	return affectedOne(res, err)
}

func (t *pgTx) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return listOrderItems(ctx, t.tx, orderID)
}

func (t *pgTx) NextCounter(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, store.ErrInvalidInput
	}
	var value int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, name).Scan(&value)
	return value, err
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
