package service

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"caraudiopos/backend/internal/cache"
	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/fitment"
	"caraudiopos/backend/internal/inventory"
	"caraudiopos/backend/internal/recommendation"
	"caraudiopos/backend/internal/store"
	"caraudiopos/backend/internal/store/memory"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, catalog *fitment.Catalog) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	fit := fitment.NewEngine(catalog, cache.Noop{}, time.Minute, zerolog.Nop())
	recommender := recommendation.NewEngine(fit, cache.Noop{}, time.Second, zerolog.Nop())
	inv := inventory.New(repo, zerolog.Nop())
	svc := New(repo, fit, recommender, inv, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, repo
}

func seededCatalog(t *testing.T) *fitment.Catalog {
	t.Helper()
	snapshot, err := memory.NewSeeded().LoadFitmentSnapshot(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return fitment.NewCatalog(snapshot)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

type countingCatalogs struct {
	last int
}

func (c *countingCatalogs) SetFitmentRecords(n int) { c.last = n }

func TestCheckoutRefusesShortfallWithoutConfirmation(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := cashierCtx()

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		OrderID: "order-refused",
		Items: []domain.CheckoutItem{
			{ProductID: "prod-jl-c1-650", Qty: 2},
			{ProductID: "prod-kenwood-kdc", Qty: 1},
		},
	})
	if !errors.Is(err, inventory.ErrBackorderDeclined) {
		t.Fatalf("expected backorder declined, got %v", err)
	}

	if _, err := repo.GetOrder(ctx, "order-refused"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no order to be written, got %v", err)
	}
	stock, err := repo.GetStockMap(ctx, []string{"prod-jl-c1-650"})
	if err != nil {
		t.Fatalf("stock map failed: %v", err)
	}
	if stock["prod-jl-c1-650"] != 3 {
		t.Fatalf("expected stock untouched, got %d", stock["prod-jl-c1-650"])
	}
}

func TestCheckoutConfirmedBackorder(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := cashierCtx()

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items: []domain.CheckoutItem{
			{ProductID: "prod-jl-c1-650", Qty: 1},
			{ProductID: "prod-kenwood-kdc", Qty: 2},
		},
		ConfirmBackorder: true,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.OrderID == "" || len(resp.Items) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Items[0].FulfilledQty != 1 || resp.Items[0].BackorderedQty != 0 {
		t.Fatalf("expected first line fulfilled from stock, got %+v", resp.Items[0])
	}
	if resp.Items[1].BackorderedQty != 2 || resp.Items[1].BackorderID == "" {
		t.Fatalf("expected second line backordered, got %+v", resp.Items[1])
	}

	order, err := repo.GetOrder(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.CreatedBy != "cashier" || len(order.Items) != 2 {
		t.Fatalf("unexpected order %+v", order)
	}

	backorders, err := svc.ListBackorders(ctx, domain.BackorderFilter{ProductID: "prod-kenwood-kdc"})
	if err != nil {
		t.Fatalf("list backorders failed: %v", err)
	}
	if len(backorders) != 1 || backorders[0].Status != domain.BackorderOpen || backorders[0].RequestedQty != 2 {
		t.Fatalf("unexpected backorders %+v", backorders)
	}
}

func TestCheckoutMergesRepeatedLines(t *testing.T) {
	svc, _ := newTestService(t, nil)

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{
			{ProductID: "prod-jl-c1-650", Qty: 1},
			{ProductID: " prod-jl-c1-650 ", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].QtyOrdered != 3 || len(resp.Items[0].AssignedUnitIDs) != 3 {
		t.Fatalf("expected one merged line of 3, got %+v", resp.Items)
	}
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{{ProductID: "  ", Qty: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCheckInRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CheckIn(cashierCtx(), domain.CheckInRequest{
		ProductID: "prod-kenwood-kdc",
		Qty:       1,
		UnitCosts: []decimal.Decimal{decimal.NewFromInt(90)},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCheckInFulfillsBackorderAndAudits(t *testing.T) {
	svc, _ := newTestService(t, nil)

	checkout, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:            []domain.CheckoutItem{{ProductID: "prod-kenwood-kdc", Qty: 1}},
		ConfirmBackorder: true,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	result, err := svc.CheckIn(adminCtx(), domain.CheckInRequest{
		ProductID: "prod-kenwood-kdc",
		Qty:       2,
		UnitCosts: []decimal.Decimal{decimal.NewFromInt(90)},
	})
	if err != nil {
		t.Fatalf("check in failed: %v", err)
	}
	if result.AppliedToBackorders != 1 || result.AddedToStock != 1 {
		t.Fatalf("unexpected check-in result %+v", result)
	}
	if len(result.BackorderActions) != 1 || result.BackorderActions[0].OrderID != checkout.OrderID {
		t.Fatalf("expected backorder action for order %s, got %+v", checkout.OrderID, result.BackorderActions)
	}
	if !result.AvgCost.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected avg cost 90, got %s", result.AvgCost)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), testNow.Format("2006-01-02"), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	if !slices.Contains(actions, "inventory_check_in") || !slices.Contains(actions, "checkout") {
		t.Fatalf("expected checkout and check-in audit entries, got %v", actions)
	}
}

func TestListAuditLogsValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, err := svc.ListAuditLogs(cashierCtx(), "", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for cashier, got %v", err)
	}
	if _, err := svc.ListAuditLogs(adminCtx(), "14-03-2026", 10); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for malformed date, got %v", err)
	}
}

func TestReloadFitmentInstallsSnapshot(t *testing.T) {
	svc, _ := newTestService(t, nil)
	catalogs := &countingCatalogs{last: -1}
	svc.WithCatalogRecorder(catalogs)
	if catalogs.last != 0 {
		t.Fatalf("expected empty catalog to report 0 records, got %d", catalogs.last)
	}
	if years := svc.YearOptions(context.Background()); len(years) != 0 {
		t.Fatalf("expected no years before reload, got %v", years)
	}

	if _, err := svc.ReloadFitment(cashierCtx()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for cashier, got %v", err)
	}

	version, err := svc.ReloadFitment(adminCtx())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if version == "" || version != svc.fitment.Version() {
		t.Fatalf("expected installed version %q, got %q", svc.fitment.Version(), version)
	}
	if catalogs.last != 6 {
		t.Fatalf("expected one fitment record per civic year, got %d", catalogs.last)
	}

	years := svc.YearOptions(context.Background())
	if !slices.Contains(years, 2016) || !slices.Contains(years, 2021) {
		t.Fatalf("expected civic years after reload, got %v", years)
	}
	makes, err := svc.MakeOptions(context.Background(), 2018)
	if err != nil || !slices.Contains(makes, "Honda") {
		t.Fatalf("expected Honda in makes, got %v (%v)", makes, err)
	}
}

func TestOptionsValidateInput(t *testing.T) {
	svc, _ := newTestService(t, seededCatalog(t))

	if _, err := svc.MakeOptions(context.Background(), 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for year 0, got %v", err)
	}
	if _, err := svc.ModelOptions(context.Background(), 2018, " "); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank make, got %v", err)
	}
}

func TestVehicleFitment(t *testing.T) {
	svc, _ := newTestService(t, seededCatalog(t))

	found, err := svc.VehicleFitment(context.Background(), domain.Vehicle{Year: 2018, Make: " honda ", Model: "CIVIC"})
	if err != nil {
		t.Fatalf("vehicle fitment failed: %v", err)
	}
	if !found.Found || found.Fitment == nil || len(found.Fitment.Locations) != 3 {
		t.Fatalf("expected civic fitment, got %+v", found)
	}
	if !found.Din.SingleDin || !found.Din.DoubleDin {
		t.Fatalf("expected both DIN sizes, got %+v", found.Din)
	}

	missing, err := svc.VehicleFitment(context.Background(), domain.Vehicle{Year: 1999, Make: "Honda", Model: "Civic"})
	if err != nil {
		t.Fatalf("unknown vehicle must not fail: %v", err)
	}
	if missing.Found || missing.Fitment != nil || missing.Accessories != nil {
		t.Fatalf("expected empty answer for unknown vehicle, got %+v", missing)
	}

	if _, err := svc.VehicleFitment(context.Background(), domain.Vehicle{Year: 2018, Make: "Honda"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input without model, got %v", err)
	}
}

func TestRecommendReportsStock(t *testing.T) {
	svc, _ := newTestService(t, seededCatalog(t))

	resp, err := svc.Recommend(context.Background(), domain.RecommendationRequest{
		Vehicle: domain.Vehicle{Year: 2018, Make: "Honda", Model: "Civic"},
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if resp.NoMatches || len(resp.Speakers) == 0 {
		t.Fatalf("expected speaker matches, got %+v", resp)
	}
	if len(resp.DashKits) != 1 || resp.DashKits[0].ID != "prod-metra-997800" || resp.DashKits[0].InStock != 2 {
		t.Fatalf("unexpected dash kits %+v", resp.DashKits)
	}
	if len(resp.Radios) != 2 || resp.Radios[0].ID != "prod-kenwood-dmx" {
		t.Fatalf("expected in-stock double DIN radio first, got %+v", resp.Radios)
	}
}

func TestCreateProduct(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{SKU: "x", Name: "x", Category: "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:          " ps-65 ",
		Name:         "Pioneer 6.5 Coaxial",
		Category:     "Speakers",
		Brand:        "Pioneer",
		SpeakerSizes: []string{"6.5", " 6.5 ", "6.75"},
		PriceCents:   8999,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.SKU != "PS-65" || created.ID == "" {
		t.Fatalf("unexpected product %+v", created)
	}
	if len(created.SpeakerSizes) != 2 {
		t.Fatalf("expected deduplicated sizes, got %v", created.SpeakerSizes)
	}

	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{SKU: "PS-65", Name: "dup", Category: "Speakers"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate sku, got %v", err)
	}
}

func TestDeleteReservedUnitReopensBackorder(t *testing.T) {
	svc, _ := newTestService(t, nil)

	checkout, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{{ProductID: "prod-kenwood-dmx", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	unitID := checkout.Items[0].AssignedUnitIDs[0]

	if _, err := svc.DeleteUnit(cashierCtx(), unitID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	deleted, err := svc.DeleteUnit(adminCtx(), unitID)
	if err != nil {
		t.Fatalf("delete unit failed: %v", err)
	}
	if deleted.Status != domain.UnitReserved {
		t.Fatalf("expected reserved unit to be reported, got %+v", deleted)
	}

	order, err := svc.GetOrder(context.Background(), checkout.OrderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.Items[0].FulfilledQty != 0 || order.Items[0].BackorderedQty != 1 || order.Items[0].BackorderID == "" {
		t.Fatalf("expected line to move to backorder, got %+v", order.Items[0])
	}
}

func TestCompleteOrderMarksUnitsSold(t *testing.T) {
	svc, _ := newTestService(t, nil)

	checkout, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{{ProductID: "prod-metra-997800", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	order, err := svc.CompleteOrder(cashierCtx(), checkout.OrderID)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if order.Status != domain.OrderCompleted || order.CompletedAt == nil {
		t.Fatalf("unexpected order %+v", order)
	}

	sold, err := svc.ListUnits(context.Background(), "prod-metra-997800", domain.UnitSold, 0)
	if err != nil {
		t.Fatalf("list units failed: %v", err)
	}
	if len(sold) != 2 {
		t.Fatalf("expected 2 sold units, got %d", len(sold))
	}

	if _, err := svc.ListUnits(context.Background(), "prod-metra-997800", "lost", 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
	if _, err := svc.ListUnits(context.Background(), "prod-missing", "", 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown product, got %v", err)
	}
}

func TestSetBackorderStatus(t *testing.T) {
	svc, _ := newTestService(t, nil)

	checkout, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:            []domain.CheckoutItem{{ProductID: "prod-kenwood-kdc", Qty: 1}},
		ConfirmBackorder: true,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	backorderID := checkout.Items[0].BackorderID

	if _, err := svc.SetBackorderStatus(adminCtx(), backorderID, "lost"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
	if _, err := svc.SetBackorderStatus(adminCtx(), backorderID, domain.BackorderNotified); !errors.Is(err, inventory.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from open to notified, got %v", err)
	}

	updated, err := svc.SetBackorderStatus(adminCtx(), backorderID, " Ordered ")
	if err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	if updated.Status != domain.BackorderOrdered {
		t.Fatalf("expected ordered, got %s", updated.Status)
	}
}

func TestCreateProductRefreshesCachedRecommendations(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	shared := cache.NewRedisFromClient(client)

	repo := memory.NewSeeded()
	fit := fitment.NewEngine(seededCatalog(t), cache.Noop{}, time.Minute, zerolog.Nop())
	recommender := recommendation.NewEngine(fit, shared, time.Hour, zerolog.Nop())
	svc := New(repo, fit, recommender, inventory.New(repo, zerolog.Nop()), zerolog.Nop())

	req := domain.RecommendationRequest{
		Vehicle: domain.Vehicle{Year: 2018, Make: "Honda", Model: "Civic"},
		Filter:  domain.RecommendationFilter{Brand: "Focal"},
	}
	before, err := svc.Recommend(context.Background(), req)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(before.Speakers) != 0 {
		t.Fatalf("expected no Focal speakers yet, got %+v", before.Speakers)
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU: "FOC-165", Name: "Focal 6.5 Coaxial", Category: "Speakers", Brand: "Focal",
		SpeakerSize: "6.5", PriceCents: 19999,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	after, err := svc.Recommend(context.Background(), req)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(after.Speakers) != 1 || after.Speakers[0].Products[0].ID != created.ID {
		t.Fatalf("expected the new speaker after creation, got %+v", after.Speakers)
	}

	if _, err := svc.CheckIn(adminCtx(), domain.CheckInRequest{
		ProductID: created.ID, Qty: 1, UnitCosts: []decimal.Decimal{decimal.NewFromInt(90)},
	}); err != nil {
		t.Fatalf("check in failed: %v", err)
	}
	stocked, err := svc.Recommend(context.Background(), req)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if got := stocked.Speakers[0].Products[0].InStock; got != 1 {
		t.Fatalf("expected check-in to show in stock, got %d", got)
	}
}
