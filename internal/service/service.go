package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/fitment"
	"caraudiopos/backend/internal/inventory"
	"caraudiopos/backend/internal/recommendation"
	"caraudiopos/backend/internal/store"
	"caraudiopos/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// CatalogRecorder receives the record count of every installed catalog.
type CatalogRecorder interface {
	SetFitmentRecords(n int)
}

type Service struct {
	repo        store.Repository
	fitment     *fitment.Engine
	recommender *recommendation.Engine
	inventory   *inventory.Engine
	logger      zerolog.Logger
	catalogs    CatalogRecorder
	now         func() time.Time
}

func New(
	repo store.Repository,
	fit *fitment.Engine,
	recommender *recommendation.Engine,
	inv *inventory.Engine,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		fitment:     fit,
		recommender: recommender,
		inventory:   inv,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithCatalogRecorder(r CatalogRecorder) *Service {
	s.catalogs = r
	if r != nil {
		fitments, _ := s.fitment.Catalog().Counts()
		r.SetFitmentRecords(fitments)
	}
	return s
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Brand = strings.TrimSpace(req.Brand)
	req.PartNumber = strings.ToUpper(strings.TrimSpace(req.PartNumber))

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.PriceCents < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	sizes := make([]string, 0, len(req.SpeakerSizes))
	for _, size := range req.SpeakerSizes {
		if size = strings.TrimSpace(size); size != "" && !slices.Contains(sizes, size) {
			sizes = append(sizes, size)
		}
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		Brand:        req.Brand,
		SpeakerSize:  strings.TrimSpace(req.SpeakerSize),
		SpeakerSizes: sizes,
		PartNumber:   req.PartNumber,
		PriceCents:   req.PriceCents,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.recommender.Invalidate(ctx)
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d", created.SKU, created.PriceCents))
	return *created, nil
}

func (s *Service) YearOptions(ctx context.Context) []int {
	return s.fitment.YearOptions(ctx)
}

func (s *Service) MakeOptions(ctx context.Context, year int) ([]string, error) {
	if year < 1 {
		return nil, store.ErrInvalidInput
	}
	return s.fitment.MakeOptions(ctx, year), nil
}

func (s *Service) ModelOptions(ctx context.Context, year int, mk string) ([]string, error) {
	if year < 1 || strings.TrimSpace(mk) == "" {
		return nil, store.ErrInvalidInput
	}
	return s.fitment.ModelOptions(ctx, year, mk), nil
}

// VehicleFitment looks one vehicle up in the catalog. An unknown vehicle is a
// normal answer with Found unset, not an error.
func (s *Service) VehicleFitment(_ context.Context, v domain.Vehicle) (domain.VehicleFitmentResponse, error) {
	v = normalizeVehicle(v)
	if v.Year < 1 || v.Make == "" || v.Model == "" {
		return domain.VehicleFitmentResponse{}, store.ErrInvalidInput
	}

	rec := s.fitment.FindFitment(v.Year, v.Make, v.Model, v.Trim)
	acc := s.fitment.FindAccessories(v)
	return domain.VehicleFitmentResponse{
		Vehicle:     v,
		Fitment:     rec,
		Din:         s.fitment.AllowedDinSizes(v),
		Accessories: acc,
		Found:       rec != nil || acc != nil,
	}, nil
}

func (s *Service) Recommend(ctx context.Context, req domain.RecommendationRequest) (domain.RecommendationResponse, error) {
	req.Vehicle = normalizeVehicle(req.Vehicle)
	if req.Vehicle.Year < 1 || req.Vehicle.Make == "" || req.Vehicle.Model == "" {
		return domain.RecommendationResponse{}, store.ErrInvalidInput
	}

	return s.recommender.Recommend(ctx, req, s.loadCatalog)
}

func (s *Service) loadCatalog(ctx context.Context) ([]domain.Product, map[string]int, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, nil, err
	}
	stockMap, err := s.repo.GetStockMap(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	return products, stockMap, nil
}

// ReloadFitment rebuilds the catalog from the persisted snapshot and installs
// it. Requests already running keep the catalog they started with.
func (s *Service) ReloadFitment(ctx context.Context) (string, error) {
	if err := requireAdmin(ctx); err != nil {
		return "", err
	}

	snapshot, err := s.repo.LoadFitmentSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("load fitment snapshot: %w", err)
	}
	catalog := fitment.NewCatalog(snapshot)
	s.fitment.Reload(catalog)

	fitments, accessories := catalog.Counts()
	if s.catalogs != nil {
		s.catalogs.SetFitmentRecords(fitments)
	}
	s.logAudit(ctx, "fitment_reload", "fitment_catalog", catalog.Version(), fmt.Sprintf("fitments=%d,accessories=%d", fitments, accessories))
	return catalog.Version(), nil
}

// Checkout allocates every cart line to one order. Without a confirmed
// backorder the whole cart is checked against current stock first, so a
// shortfall is refused before any line is written.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	items := normalizeItems(req.Items)
	if len(items) == 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidInput
	}

	if !req.ConfirmBackorder {
		short, err := s.cartShortfall(ctx, items)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		if short > 0 {
			return domain.CheckoutResponse{}, inventory.ErrBackorderDeclined
		}
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = xid.New("order")
	}
	createdBy := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		createdBy = actor.Username
	}
	confirm := req.ConfirmBackorder
	prompt := func(context.Context, int) (bool, error) { return confirm, nil }

	resp := domain.CheckoutResponse{OrderID: orderID, Items: make([]domain.OrderItem, 0, len(items))}
	backordered := 0
	for _, line := range items {
		item, err := s.inventory.ProcessOrderItem(ctx, inventory.AllocateRequest{
			OrderID:   orderID,
			ProductID: line.ProductID,
			Qty:       line.Qty,
			CreatedBy: createdBy,
		}, prompt)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		backordered += item.BackorderedQty
		resp.Items = append(resp.Items, item)
	}

	s.recommender.Invalidate(ctx)
	s.logAudit(ctx, "checkout", "order", orderID, fmt.Sprintf("lines=%d,backordered=%d,confirmed=%t", len(resp.Items), backordered, confirm))
	return resp, nil
}

func (s *Service) cartShortfall(ctx context.Context, items []domain.CheckoutItem) (int, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	stockMap, err := s.repo.GetStockMap(ctx, ids)
	if err != nil {
		return 0, err
	}
	short := 0
	for _, item := range items {
		if missing := item.Qty - stockMap[item.ProductID]; missing > 0 {
			short += missing
		}
	}
	return short, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, store.ErrInvalidInput
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) CompleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, store.ErrInvalidInput
	}
	order, err := s.inventory.CompleteOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	s.logAudit(ctx, "order_complete", "order", order.ID, fmt.Sprintf("lines=%d", len(order.Items)))
	return order, nil
}

func (s *Service) CheckIn(ctx context.Context, req domain.CheckInRequest) (domain.CheckInResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CheckInResult{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return domain.CheckInResult{}, store.ErrInvalidInput
	}

	result, err := s.inventory.CheckInProduct(ctx, req)
	if err != nil {
		return domain.CheckInResult{}, err
	}
	s.recommender.Invalidate(ctx)
	s.logAudit(ctx, "inventory_check_in", "product", result.ProductID, fmt.Sprintf(
		"units=%d,backorders=%d,stock=%d,avg_cost=%s",
		len(result.UnitIDs), result.AppliedToBackorders, result.AddedToStock, result.AvgCost.StringFixed(inventory.CostScale),
	))
	return result, nil
}

func (s *Service) ListUnits(ctx context.Context, productID string, status string, limit int) ([]domain.ProductUnit, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, store.ErrInvalidInput
	}
	switch status {
	case "", domain.UnitInStock, domain.UnitReserved, domain.UnitSold:
	default:
		return nil, store.ErrInvalidInput
	}
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListUnits(ctx, productID, status, limit)
}

func (s *Service) DeleteUnit(ctx context.Context, unitID string) (domain.ProductUnit, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ProductUnit{}, err
	}
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return domain.ProductUnit{}, store.ErrInvalidInput
	}

	unit, err := s.inventory.DeleteUnit(ctx, unitID)
	if err != nil {
		return domain.ProductUnit{}, err
	}
	s.recommender.Invalidate(ctx)
	s.logAudit(ctx, "unit_delete", "product_unit", unit.ID, fmt.Sprintf("product=%s,status=%s,order=%s", unit.ProductID, unit.Status, unit.OrderID))
	return unit, nil
}

func (s *Service) ListBackorders(ctx context.Context, filter domain.BackorderFilter) ([]domain.Backorder, error) {
	filter.ProductID = strings.TrimSpace(filter.ProductID)
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	if filter.Status != "" && !isBackorderStatus(filter.Status) {
		return nil, store.ErrInvalidInput
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	return s.repo.ListBackorders(ctx, filter)
}

func (s *Service) SetBackorderStatus(ctx context.Context, backorderID string, status string) (domain.Backorder, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Backorder{}, err
	}
	backorderID = strings.TrimSpace(backorderID)
	status = strings.ToLower(strings.TrimSpace(status))
	if backorderID == "" || !isBackorderStatus(status) {
		return domain.Backorder{}, store.ErrInvalidInput
	}

	backorder, err := s.inventory.SetBackorderStatus(ctx, backorderID, status)
	if err != nil {
		return domain.Backorder{}, err
	}
	s.logAudit(ctx, "backorder_status", "backorder", backorder.ID, "status="+backorder.Status)
	return backorder, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func normalizeVehicle(v domain.Vehicle) domain.Vehicle {
	v.Make = strings.TrimSpace(v.Make)
	v.Model = strings.TrimSpace(v.Model)
	v.Trim = strings.TrimSpace(v.Trim)
	return v
}

// normalizeItems folds repeated products into one line, keeping first-seen order.
func normalizeItems(items []domain.CheckoutItem) []domain.CheckoutItem {
	out := make([]domain.CheckoutItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" || item.Qty < 1 {
			continue
		}
		if i, ok := index[item.ProductID]; ok {
			out[i].Qty += item.Qty
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out
}

func isBackorderStatus(status string) bool {
	switch status {
	case domain.BackorderOpen, domain.BackorderOrdered, domain.BackorderPartial,
		domain.BackorderFulfilled, domain.BackorderNotified, domain.BackorderClosed:
		return true
	}
	return false
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}
