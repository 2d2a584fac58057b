package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"caraudiopos/backend/internal/cache"
	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/fitment"
	"caraudiopos/backend/internal/inventory"
	"caraudiopos/backend/internal/observability"
	"caraudiopos/backend/internal/recommendation"
	"caraudiopos/backend/internal/service"
	"caraudiopos/backend/internal/store/memory"
)

const testManagerPIN = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	snapshot, err := repo.LoadFitmentSnapshot(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	fit := fitment.NewEngine(fitment.NewCatalog(snapshot), cache.Noop{}, time.Minute, zerolog.Nop())
	recommender := recommendation.NewEngine(fit, cache.Noop{}, time.Second, zerolog.Nop())
	svc := service.New(repo, fit, recommender, inventory.New(repo, zerolog.Nop()), zerolog.Nop())

	auth, err := NewAuthManager(context.Background(), "test-secret-key-0123456789abcdef", time.Hour, testManagerPIN, repo)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	api, err := New(svc, auth, Config{
		AllowedOrigin: "*",
		Metrics:       observability.NewMetrics(),
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON sends one request through the full handler and returns the recorder.
func doJSON(t *testing.T, h http.Handler, method, path, token, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", "", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &body)
	if len(body.Products) != 8 {
		t.Fatalf("expected 8 seeded products, got %d", len(body.Products))
	}
}

func TestCreateProductIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	csrf := fetchCSRFToken(t, api)
	product := domain.ProductCreateRequest{SKU: "TS-A652F", Name: "Pioneer A-Series 6.5", Category: "Speakers", Brand: "Pioneer", SpeakerSize: "6.5", PriceCents: 8999}

	cashier := loginAs(t, api, "cashier", "cashier123")
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/products", cashier, csrf, product); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	admin := loginAsAdmin(t, api)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, csrf, product)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, csrf, product); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate sku, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, csrf, map[string]any{"sku": "X"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}
}

func TestFitmentLookups(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/fitment/years", token, "", nil)
	var years struct {
		Years []int `json:"years"`
	}
	decodeBody(t, rec, &years)
	if len(years.Years) != 6 {
		t.Fatalf("expected 6 civic years, got %v", years.Years)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/fitment/models?year=2018&make=honda", token, "", nil)
	var models struct {
		Models []string `json:"models"`
	}
	decodeBody(t, rec, &models)
	if len(models.Models) != 1 || models.Models[0] != "Civic" {
		t.Fatalf("expected Civic, got %v", models.Models)
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/v1/fitment/makes", token, "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without year, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/fitment/vehicle?year=2019&make=Honda&model=Civic", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var vehicle domain.VehicleFitmentResponse
	decodeBody(t, rec, &vehicle)
	if !vehicle.Found || !vehicle.Din.DoubleDin || vehicle.Fitment == nil {
		t.Fatalf("unexpected vehicle answer %+v", vehicle)
	}
}

func TestRecommendations(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/fitment/recommendations", token, csrf, domain.RecommendationRequest{
		Vehicle: domain.Vehicle{Year: 2018, Make: "Honda", Model: "Civic"},
		Filter:  domain.RecommendationFilter{Location: "Front Door"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.RecommendationResponse
	decodeBody(t, rec, &resp)
	if len(resp.Speakers) != 1 || resp.Speakers[0].Role != "Front Door" {
		t.Fatalf("expected only front door speakers, got %+v", resp.Speakers)
	}
	if len(resp.Speakers[0].Products) != 1 || resp.Speakers[0].Products[0].ID != "prod-jl-c1-650" {
		t.Fatalf("unexpected front door products %+v", resp.Speakers[0].Products)
	}

	bad := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/fitment/recommendations", token, csrf, domain.RecommendationRequest{
		Vehicle: domain.Vehicle{Year: 2018, Make: "Honda", Model: "Civic"},
		Filter:  domain.RecommendationFilter{Din: "triple"},
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown din filter, got %d", bad.Code)
	}
}

func TestCheckoutRequiresManagerConfirmation(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	cart := []domain.CheckoutItem{{ProductID: "prod-kenwood-kdc", Qty: 1}}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{Items: cart})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without pin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "requires manager confirmation") {
		t.Fatalf("expected confirmation message, got %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{Items: cart, ManagerPIN: "000000"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{Items: cart, ManagerPIN: testManagerPIN})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with pin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	decodeBody(t, rec, &resp)
	if len(resp.Items) != 1 || resp.Items[0].BackorderedQty != 1 {
		t.Fatalf("expected one backordered piece, got %+v", resp.Items)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/orders/"+resp.OrderID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected order lookup 200, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/v1/orders/order-missing", token, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", rec.Code)
	}
}

func TestCheckInAppliesBackorders(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	csrf := fetchCSRFToken(t, api)
	cashier := loginAs(t, api, "cashier", "cashier123")
	admin := loginAsAdmin(t, api)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout", cashier, csrf, domain.CheckoutRequest{
		Items:      []domain.CheckoutItem{{ProductID: "prod-kenwood-kdc", Qty: 2}},
		ManagerPIN: testManagerPIN,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	checkIn := map[string]any{"product_id": "prod-kenwood-kdc", "qty": 3, "unit_costs": []string{"80.00"}}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/inventory/check-in", cashier, csrf, checkIn); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier check-in, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/inventory/check-in", admin, csrf, checkIn)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var result domain.CheckInResult
	decodeBody(t, rec, &result)
	if result.AppliedToBackorders != 2 || result.AddedToStock != 1 || len(result.UnitIDs) != 3 {
		t.Fatalf("unexpected check-in result %+v", result)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/backorders?product_id=prod-kenwood-kdc", cashier, "", nil)
	var listed struct {
		Backorders []domain.Backorder `json:"backorders"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Backorders) != 1 || listed.Backorders[0].Status != domain.BackorderFulfilled {
		t.Fatalf("expected fulfilled backorder, got %+v", listed.Backorders)
	}

	bad := map[string]any{"product_id": "prod-kenwood-kdc", "qty": 2, "unit_costs": []string{"1", "2", "3"}}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/inventory/check-in", admin, csrf, bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for cost count mismatch, got %d", rec.Code)
	}
}

func TestDeleteUnitAndBackorderStatus(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	csrf := fetchCSRFToken(t, api)
	admin := loginAsAdmin(t, api)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/inventory/products/prod-kenwood-dmx/units", admin, "", nil)
	var units struct {
		Units []domain.ProductUnit `json:"units"`
	}
	decodeBody(t, rec, &units)
	if len(units.Units) != 1 {
		t.Fatalf("expected 1 seeded unit, got %+v", units.Units)
	}
	unitID := units.Units[0].ID

	rec = doJSON(t, h, http.MethodPost, "/api/v1/checkout", admin, csrf, domain.CheckoutRequest{
		Items: []domain.CheckoutItem{{ProductID: "prod-kenwood-dmx", Qty: 1}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, h, http.MethodDelete, "/api/v1/inventory/units/"+unitID, admin, "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf on delete, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodDelete, "/api/v1/inventory/units/"+unitID, admin, csrf, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, h, http.MethodDelete, "/api/v1/inventory/units/"+unitID, admin, csrf, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/backorders?status=open", admin, "", nil)
	var listed struct {
		Backorders []domain.Backorder `json:"backorders"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Backorders) != 1 {
		t.Fatalf("expected the released unit to open a backorder, got %+v", listed.Backorders)
	}
	path := "/api/v1/backorders/" + listed.Backorders[0].ID

	if rec := doJSON(t, h, http.MethodPatch, path, admin, csrf, map[string]string{"status": "lost"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPatch, path, admin, csrf, map[string]string{"status": "notified"}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for open to notified, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPatch, path, admin, csrf, map[string]string{"status": "ordered"}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for open to ordered, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCompleteOrderAndSoldUnitGuard(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	csrf := fetchCSRFToken(t, api)
	admin := loginAsAdmin(t, api)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout", admin, csrf, domain.CheckoutRequest{
		Items: []domain.CheckoutItem{{ProductID: "prod-metra-997800", Qty: 1}},
	})
	var checkout domain.CheckoutResponse
	decodeBody(t, rec, &checkout)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/orders/"+checkout.OrderID+"/complete", admin, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var order domain.Order
	decodeBody(t, rec, &order)
	if order.Status != domain.OrderCompleted {
		t.Fatalf("expected completed order, got %+v", order)
	}

	soldID := checkout.Items[0].AssignedUnitIDs[0]
	if rec := doJSON(t, h, http.MethodDelete, "/api/v1/inventory/units/"+soldID, admin, csrf, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 deleting a sold unit, got %d", rec.Code)
	}
}

func TestCashierManagement(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	csrf := fetchCSRFToken(t, api)
	admin := loginAsAdmin(t, api)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/users/cashiers", admin, csrf, domain.CashierCreateRequest{Username: "installer", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/users/cashiers", admin, csrf, domain.CashierCreateRequest{Username: "installer", Password: "pass1234"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cashier, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/cashiers", admin, "", nil)
	var listed struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Cashiers) != 2 {
		t.Fatalf("expected seeded and new cashier, got %+v", listed.Cashiers)
	}

	if token := loginAs(t, api, "installer", "pass1234"); token == "" {
		t.Fatalf("expected new cashier to log in")
	}
}

func TestAuditLogsAndFitmentReload(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	csrf := fetchCSRFToken(t, api)
	admin := loginAsAdmin(t, api)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/fitment/reload", admin, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/audit-logs", admin, "", nil)
	var logs struct {
		AuditLogs []domain.AuditLog `json:"audit_logs"`
	}
	decodeBody(t, rec, &logs)
	if len(logs.AuditLogs) != 1 || logs.AuditLogs[0].Action != "fitment_reload" {
		t.Fatalf("expected fitment reload audit entry, got %+v", logs.AuditLogs)
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/v1/audit-logs?date=yesterday", admin, "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rec.Code)
	}
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()

	doJSON(t, h, http.MethodGet, "/healthz", "", "", nil)
	rec := doJSON(t, h, http.MethodGet, "/metrics", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `caraudiopos_http_requests_total{code="200",route="/healthz"} 1`) {
		t.Fatalf("expected healthz request counter, got %s", rec.Body.String())
	}
}

func TestUnknownRouteReturnsJSON(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/nope", "", "", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json error, got %q", ct)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
