// Package inventory allocates serialized units to orders, queues shortfalls
// as backorders and fulfills them from new stock.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/store"
	"caraudiopos/backend/internal/xid"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrBackorderDeclined = errors.New("backorder declined")
	ErrUnitSold          = errors.New("sold units cannot be deleted")
	ErrInvalidTransition = errors.New("invalid backorder status transition")
)

// maxPromptAttempts bounds how often a line re-asks for confirmation when the
// shortfall keeps growing between the prompt and the write.
const maxPromptAttempts = 3

const backorderCounter = "backorder"

// BackorderPrompt asks whether a shortfall of qty units may be backordered.
type BackorderPrompt func(ctx context.Context, qty int) (bool, error)

// Notifier is told about backorders that became fully fulfilled. It runs after
// commit; failures are logged only.
type Notifier interface {
	NotifyBackorderFulfilled(ctx context.Context, backorderID string) error
}

// Recorder receives allocation counters.
type Recorder interface {
	UnitsReceived(n int)
	UnitsAllocated(n int)
	BackorderedUnits(n int)
	BackorderUnitsApplied(n int)
}

type noopRecorder struct{}

func (noopRecorder) UnitsReceived(int)         {}
func (noopRecorder) UnitsAllocated(int)        {}
func (noopRecorder) BackorderedUnits(int)      {}
func (noopRecorder) BackorderUnitsApplied(int) {}

type Engine struct {
	repo     store.Repository
	logger   zerolog.Logger
	now      func() time.Time
	notifier Notifier
	recorder Recorder
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func New(repo store.Repository, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AllocateRequest describes one order line. Empty ids are generated.
type AllocateRequest struct {
	OrderID     string
	OrderItemID string
	ProductID   string
	Qty         int
	CreatedBy   string
}

// Allocate reserves up to Qty in-stock units oldest first and backorders the
// rest. It never asks for confirmation.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (domain.OrderItem, error) {
	if req.Qty <= 0 {
		return domain.OrderItem{}, ErrInvalidQuantity
	}
	var item domain.OrderItem
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		item, err = e.allocateTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	e.recordAllocation(item)
	return item, nil
}

var errNeedsConfirmation = errors.New("shortfall needs confirmation")

// ProcessOrderItem allocates one line, asking prompt before any shortfall is
// backordered. The prompt runs outside the transaction; if stock shrinks
// before the write the larger shortfall is prompted again. A decline leaves
// no trace of the line.
func (e *Engine) ProcessOrderItem(ctx context.Context, req AllocateRequest, prompt BackorderPrompt) (domain.OrderItem, error) {
	if req.Qty <= 0 {
		return domain.OrderItem{}, ErrInvalidQuantity
	}

	confirmed := 0
	for range maxPromptAttempts {
		var (
			item      domain.OrderItem
			shortfall int
		)
		err := e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
				return fmt.Errorf("product %s: %w", req.ProductID, err)
			}
			units, err := tx.ListUnits(ctx, req.ProductID, domain.UnitInStock)
			if err != nil {
				return err
			}
			shortfall = req.Qty - min(req.Qty, len(units))
			if shortfall > confirmed {
				return errNeedsConfirmation
			}
			item, err = e.allocateTx(ctx, tx, req)
			return err
		})
		if errors.Is(err, errNeedsConfirmation) {
			if prompt == nil {
				return domain.OrderItem{}, ErrBackorderDeclined
			}
			ok, perr := prompt(ctx, shortfall)
			if perr != nil {
				return domain.OrderItem{}, perr
			}
			if !ok {
				return domain.OrderItem{}, ErrBackorderDeclined
			}
			confirmed = shortfall
			continue
		}
		if err != nil {
			return domain.OrderItem{}, err
		}
		e.recordAllocation(item)
		return item, nil
	}
	return domain.OrderItem{}, fmt.Errorf("%w: stock for %s kept changing during confirmation", store.ErrConflict, req.ProductID)
}

func (e *Engine) allocateTx(ctx context.Context, tx store.Tx, req AllocateRequest) (domain.OrderItem, error) {
	if req.Qty <= 0 {
		return domain.OrderItem{}, ErrInvalidQuantity
	}
	if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
		return domain.OrderItem{}, fmt.Errorf("product %s: %w", req.ProductID, err)
	}
	now := e.now()

	if req.OrderID == "" {
		req.OrderID = xid.New("order")
	}
	order, err := tx.GetOrder(ctx, req.OrderID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := tx.InsertOrder(ctx, domain.Order{ID: req.OrderID, Status: domain.OrderOpen, CreatedBy: req.CreatedBy, CreatedAt: now}); err != nil {
			return domain.OrderItem{}, err
		}
	case err != nil:
		return domain.OrderItem{}, err
	case order.Status == domain.OrderCompleted:
		return domain.OrderItem{}, fmt.Errorf("%w: order %s is completed", store.ErrConflict, order.ID)
	}

	if req.OrderItemID == "" {
		req.OrderItemID = xid.New("item")
	}
	item := domain.OrderItem{
		ID:              req.OrderItemID,
		OrderID:         req.OrderID,
		ProductID:       req.ProductID,
		QtyOrdered:      req.Qty,
		AssignedUnitIDs: []string{},
		CreatedAt:       now,
	}

	units, err := tx.ListUnits(ctx, req.ProductID, domain.UnitInStock)
	if err != nil {
		return domain.OrderItem{}, err
	}
	take := min(req.Qty, len(units))
	for _, unit := range units[:take] {
		unit.Status = domain.UnitReserved
		unit.OrderID = item.OrderID
		unit.OrderItemID = item.ID
		if err := tx.UpdateUnit(ctx, unit); err != nil {
			return domain.OrderItem{}, err
		}
		item.AssignedUnitIDs = append(item.AssignedUnitIDs, unit.ID)
	}
	item.FulfilledQty = take
	item.BackorderedQty = req.Qty - take

	if item.BackorderedQty > 0 {
		seq, err := tx.NextCounter(ctx, backorderCounter)
		if err != nil {
			return domain.OrderItem{}, err
		}
		backorder := domain.Backorder{
			ID:           xid.New("bo"),
			ProductID:    req.ProductID,
			OrderID:      item.OrderID,
			OrderItemID:  item.ID,
			RequestedQty: item.BackorderedQty,
			Status:       domain.BackorderOpen,
			CreatedAt:    now,
			Seq:          seq,
			UpdatedAt:    now,
		}
		if err := tx.InsertBackorder(ctx, backorder); err != nil {
			return domain.OrderItem{}, err
		}
		item.BackorderID = backorder.ID
	}

	if err := tx.InsertOrderItem(ctx, item); err != nil {
		return domain.OrderItem{}, err
	}
	return item, nil
}

func (e *Engine) recordAllocation(item domain.OrderItem) {
	e.recorder.UnitsAllocated(item.FulfilledQty)
	if item.BackorderedQty > 0 {
		e.recorder.BackorderedUnits(item.BackorderedQty)
		e.logger.Info().
			Str("order_id", item.OrderID).
			Str("product_id", item.ProductID).
			Str("backorder_id", item.BackorderID).
			Int("qty", item.BackorderedQty).
			Msg("backorder created")
	}
}

// ReceiveUnits checks in one unit per cost.
func (e *Engine) ReceiveUnits(ctx context.Context, productID string, costs []decimal.Decimal) (domain.CheckInResult, error) {
	return e.CheckInProduct(ctx, domain.CheckInRequest{ProductID: productID, Qty: len(costs), UnitCosts: costs})
}

// CheckInProduct creates the received units, folds their costs into the
// product average and hands them to eligible backorders oldest first. A
// single unit cost applies to every unit of the batch.
func (e *Engine) CheckInProduct(ctx context.Context, req domain.CheckInRequest) (domain.CheckInResult, error) {
	costs, err := normalizeCheckIn(&req)
	if err != nil {
		return domain.CheckInResult{}, err
	}

	var (
		result    domain.CheckInResult
		fulfilled []string
	)
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result, fulfilled = domain.CheckInResult{}, nil
		product, err := tx.GetProduct(ctx, req.ProductID)
		if err != nil {
			return fmt.Errorf("product %s: %w", req.ProductID, err)
		}
		now := e.now()
		code := xid.BrandCode(product.Brand)

		received := make([]domain.ProductUnit, 0, len(costs))
		for i, cost := range costs {
			seq, err := tx.NextCounter(ctx, "unit:"+code)
			if err != nil {
				return err
			}
			unit := domain.ProductUnit{
				ID:         xid.UnitID(code, seq),
				ProductID:  product.ID,
				Cost:       cost,
				Status:     domain.UnitInStock,
				ReceivedAt: now,
				Seq:        seq,
				Spot:       req.Spot,
			}
			if len(req.Serials) > 0 {
				unit.Serial = req.Serials[i]
			}
			if err := tx.InsertUnit(ctx, unit); err != nil {
				return err
			}
			received = append(received, unit)
			result.UnitIDs = append(result.UnitIDs, unit.ID)
		}

		avg, qty := WeightedAverage(product.AvgCost, product.AvgCostQty, costs)
		if err := tx.UpdateProductCost(ctx, product.ID, avg, qty); err != nil {
			return err
		}
		result.ProductID = product.ID
		result.AvgCost = avg

		actions, err := applyToBackorders(ctx, tx, product.ID, received, now)
		if err != nil {
			return err
		}
		for _, action := range actions {
			result.AppliedToBackorders += action.Applied
			if action.Status == domain.BackorderFulfilled {
				fulfilled = append(fulfilled, action.BackorderID)
			}
		}
		result.BackorderActions = actions
		result.AddedToStock = len(received) - result.AppliedToBackorders
		return nil
	})
	if err != nil {
		return domain.CheckInResult{}, err
	}
	if result.BackorderActions == nil {
		result.BackorderActions = []domain.BackorderAction{}
	}

	e.recorder.UnitsReceived(len(result.UnitIDs))
	e.recorder.BackorderUnitsApplied(result.AppliedToBackorders)
	e.logger.Info().
		Str("product_id", result.ProductID).
		Int("received", len(result.UnitIDs)).
		Int("applied", result.AppliedToBackorders).
		Str("avg_cost", result.AvgCost.String()).
		Msg("units checked in")

	if e.notifier != nil {
		for _, id := range fulfilled {
			if err := e.notifier.NotifyBackorderFulfilled(ctx, id); err != nil {
				e.logger.Warn().Err(err).Str("backorder_id", id).Msg("backorder notification not queued")
			}
		}
	}
	return result, nil
}

func normalizeCheckIn(req *domain.CheckInRequest) ([]decimal.Decimal, error) {
	if req.Qty == 0 {
		req.Qty = len(req.UnitCosts)
	}
	if req.Qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	costs := req.UnitCosts
	switch {
	case len(costs) == 1 && req.Qty > 1:
		costs = slices.Repeat(costs, req.Qty)
	case len(costs) != req.Qty:
		return nil, fmt.Errorf("%w: %d unit costs for %d units", store.ErrInvalidInput, len(costs), req.Qty)
	}
	for _, c := range costs {
		if c.IsNegative() {
			return nil, fmt.Errorf("%w: negative unit cost", store.ErrInvalidInput)
		}
	}
	if len(req.Serials) > 0 && len(req.Serials) != req.Qty {
		return nil, fmt.Errorf("%w: %d serials for %d units", store.ErrInvalidInput, len(req.Serials), req.Qty)
	}
	return costs, nil
}

// applyToBackorders reserves the freshly received units for the oldest
// eligible backorders. Units left over stay in stock.
func applyToBackorders(ctx context.Context, tx store.Tx, productID string, pool []domain.ProductUnit, now time.Time) ([]domain.BackorderAction, error) {
	if len(pool) == 0 {
		return nil, nil
	}
	backorders, err := tx.ListEligibleBackorders(ctx, productID)
	if err != nil {
		return nil, err
	}

	var actions []domain.BackorderAction
	for _, bo := range backorders {
		if len(pool) == 0 {
			break
		}
		item, err := tx.GetOrderItem(ctx, bo.OrderItemID)
		if err != nil {
			return nil, fmt.Errorf("order item %s of backorder %s: %w", bo.OrderItemID, bo.ID, err)
		}

		applied := 0
		for applied < bo.Remaining() && len(pool) > 0 {
			unit := pool[0]
			pool = pool[1:]
			unit.Status = domain.UnitReserved
			unit.OrderID = bo.OrderID
			unit.OrderItemID = bo.OrderItemID
			unit.BackorderID = bo.ID
			if err := tx.UpdateUnit(ctx, unit); err != nil {
				return nil, err
			}
			item.AssignedUnitIDs = append(item.AssignedUnitIDs, unit.ID)
			applied++
		}

		bo.FulfilledQty += applied
		bo.Status = domain.BackorderPartial
		if bo.Remaining() == 0 {
			bo.Status = domain.BackorderFulfilled
		}
		bo.UpdatedAt = now
		if err := tx.UpdateBackorder(ctx, bo); err != nil {
			return nil, err
		}

		item.FulfilledQty += applied
		item.BackorderedQty = max(item.BackorderedQty-applied, 0)
		if err := tx.UpdateOrderItem(ctx, *item); err != nil {
			return nil, err
		}

		actions = append(actions, domain.BackorderAction{
			BackorderID: bo.ID,
			OrderID:     bo.OrderID,
			OrderItemID: bo.OrderItemID,
			Applied:     applied,
			Status:      bo.Status,
		})
	}
	return actions, nil
}

// DeleteUnit removes an unsold unit. A reserved unit hands its slot back to the
// order line as a backorder so the line still adds up.
func (e *Engine) DeleteUnit(ctx context.Context, unitID string) (domain.ProductUnit, error) {
	var deleted domain.ProductUnit
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		unit, err := tx.GetUnit(ctx, unitID)
		if err != nil {
			return fmt.Errorf("unit %s: %w", unitID, err)
		}
		if unit.Status == domain.UnitSold {
			return ErrUnitSold
		}
		if unit.Status == domain.UnitReserved && unit.OrderItemID != "" {
			if err := e.releaseReservation(ctx, tx, *unit); err != nil {
				return err
			}
		}
		deleted = *unit
		return tx.DeleteUnit(ctx, unit.ID)
	})
	if err != nil {
		return domain.ProductUnit{}, err
	}
	e.logger.Info().Str("unit_id", deleted.ID).Str("status", deleted.Status).Msg("unit deleted")
	return deleted, nil
}

func (e *Engine) releaseReservation(ctx context.Context, tx store.Tx, unit domain.ProductUnit) error {
	item, err := tx.GetOrderItem(ctx, unit.OrderItemID)
	if err != nil {
		return fmt.Errorf("order item %s: %w", unit.OrderItemID, err)
	}
	item.AssignedUnitIDs = slices.DeleteFunc(item.AssignedUnitIDs, func(id string) bool { return id == unit.ID })
	item.FulfilledQty = max(item.FulfilledQty-1, 0)
	item.BackorderedQty++
	now := e.now()

	reopened := false
	if item.BackorderID != "" {
		bo, err := tx.GetBackorder(ctx, item.BackorderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if bo != nil && bo.Status != domain.BackorderNotified && bo.Status != domain.BackorderClosed {
			bo.RequestedQty++
			if bo.Status == domain.BackorderFulfilled || bo.Status == domain.BackorderPartial {
				bo.Status = domain.BackorderPartial
			}
			bo.UpdatedAt = now
			if err := tx.UpdateBackorder(ctx, *bo); err != nil {
				return err
			}
			reopened = true
		}
	}
	if !reopened {
		seq, err := tx.NextCounter(ctx, backorderCounter)
		if err != nil {
			return err
		}
		bo := domain.Backorder{
			ID:           xid.New("bo"),
			ProductID:    unit.ProductID,
			OrderID:      item.OrderID,
			OrderItemID:  item.ID,
			RequestedQty: 1,
			Status:       domain.BackorderOpen,
			CreatedAt:    now,
			Seq:          seq,
			UpdatedAt:    now,
		}
		if err := tx.InsertBackorder(ctx, bo); err != nil {
			return err
		}
		item.BackorderID = bo.ID
	}
	return tx.UpdateOrderItem(ctx, *item)
}

// CompleteOrder sells every unit currently reserved for the order. It may be
// called again once later receipts have filled backordered lines.
func (e *Engine) CompleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var result domain.Order
	sold := 0
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sold = 0
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		items, err := tx.ListOrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		now := e.now()
		for _, item := range items {
			for _, id := range item.AssignedUnitIDs {
				unit, err := tx.GetUnit(ctx, id)
				if err != nil {
					return fmt.Errorf("unit %s: %w", id, err)
				}
				if unit.Status != domain.UnitReserved {
					continue
				}
				unit.Status = domain.UnitSold
				unit.SoldAt = &now
				if err := tx.UpdateUnit(ctx, *unit); err != nil {
					return err
				}
				sold++
			}
		}
		if order.Status != domain.OrderCompleted {
			order.Status = domain.OrderCompleted
			order.CompletedAt = &now
			if err := tx.UpdateOrder(ctx, *order); err != nil {
				return err
			}
		}
		result = *order
		result.Items = items
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	e.logger.Info().Str("order_id", orderID).Int("sold", sold).Msg("order completed")
	return result, nil
}

// transitions lists the manual status changes. partial and fulfilled are
// only ever reached through receipts.
var transitions = map[string][]string{
	domain.BackorderOpen:      {domain.BackorderOrdered, domain.BackorderClosed},
	domain.BackorderOrdered:   {domain.BackorderOpen, domain.BackorderClosed},
	domain.BackorderPartial:   {domain.BackorderClosed},
	domain.BackorderFulfilled: {domain.BackorderNotified, domain.BackorderClosed},
	domain.BackorderNotified:  {domain.BackorderClosed},
}

func CanTransition(from, to string) bool {
	return from == to || slices.Contains(transitions[from], to)
}

// SetBackorderStatus applies a manual status change.
func (e *Engine) SetBackorderStatus(ctx context.Context, backorderID, status string) (domain.Backorder, error) {
	var result domain.Backorder
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bo, err := tx.GetBackorder(ctx, backorderID)
		if err != nil {
			return fmt.Errorf("backorder %s: %w", backorderID, err)
		}
		if !CanTransition(bo.Status, status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, bo.Status, status)
		}
		if bo.Status != status {
			bo.Status = status
			bo.UpdatedAt = e.now()
			if err := tx.UpdateBackorder(ctx, *bo); err != nil {
				return err
			}
		}
		result = *bo
		return nil
	})
	if err != nil {
		return domain.Backorder{}, err
	}
	return result, nil
}

// MarkNotified moves a fulfilled backorder to notified. Repeated calls are
// no-ops so a retried notification job stays harmless.
func (e *Engine) MarkNotified(ctx context.Context, backorderID string) (domain.Backorder, error) {
	return e.SetBackorderStatus(ctx, backorderID, domain.BackorderNotified)
}
