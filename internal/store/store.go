package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"caraudiopos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// Tx is the transactional view used by inventory operations. Rows read
// through a Tx stay locked until the transaction ends, so a read followed by a
// write of the same unit, backorder, product or counter cannot lose updates.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpdateProductCost(ctx context.Context, id string, avgCost decimal.Decimal, avgCostQty int64) error

	// ListUnits returns the product's units in FIFO order: received_at, then seq.
	ListUnits(ctx context.Context, productID string, status string) ([]domain.ProductUnit, error)
	GetUnit(ctx context.Context, id string) (*domain.ProductUnit, error)
	InsertUnit(ctx context.Context, unit domain.ProductUnit) error
	UpdateUnit(ctx context.Context, unit domain.ProductUnit) error
	DeleteUnit(ctx context.Context, id string) error

	// ListEligibleBackorders returns open, ordered and partial backorders of
	// the product, oldest first: created_at, then seq.
	ListEligibleBackorders(ctx context.Context, productID string) ([]domain.Backorder, error)
	GetBackorder(ctx context.Context, id string) (*domain.Backorder, error)
	InsertBackorder(ctx context.Context, backorder domain.Backorder) error
	UpdateBackorder(ctx context.Context, backorder domain.Backorder) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	UpdateOrder(ctx context.Context, order domain.Order) error
	GetOrderItem(ctx context.Context, id string) (*domain.OrderItem, error)
	InsertOrderItem(ctx context.Context, item domain.OrderItem) error
	UpdateOrderItem(ctx context.Context, item domain.OrderItem) error
	ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)

	// NextCounter increments the named counter and returns the new value.
	NextCounter(ctx context.Context, name string) (int64, error)
}

type Repository interface {
	// WithTx runs fn in one transaction. A non-nil error from fn rolls back
	// every write fn made.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error)
	ListUnits(ctx context.Context, productID string, status string, limit int) ([]domain.ProductUnit, error)
	ListBackorders(ctx context.Context, filter domain.BackorderFilter) ([]domain.Backorder, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	LoadFitmentSnapshot(ctx context.Context) (domain.FitmentSnapshot, error)
	SaveFitmentSnapshot(ctx context.Context, snapshot domain.FitmentSnapshot) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
