package memory

import (
	"context"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/store"
	"caraudiopos/backend/internal/xid"
)

// Store keeps everything in process. WithTx holds the write lock for the whole
// callback and works on a copy of the inventory state, so a failing callback
// leaves nothing behind. Callbacks must only use the Tx they are given.
type Store struct {
	mu              sync.RWMutex
	state           *state
	snapshot        domain.FitmentSnapshot
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

type state struct {
	products   map[string]domain.Product
	units      map[string]domain.ProductUnit
	backorders map[string]domain.Backorder
	orders     map[string]domain.Order
	orderItems map[string]domain.OrderItem
	counters   map[string]int64
}

func newState() *state {
	return &state{
		products:   make(map[string]domain.Product),
		units:      make(map[string]domain.ProductUnit),
		backorders: make(map[string]domain.Backorder),
		orders:     make(map[string]domain.Order),
		orderItems: make(map[string]domain.OrderItem),
		counters:   make(map[string]int64),
	}
}

func (st *state) clone() *state {
	dup := &state{
		products:   make(map[string]domain.Product, len(st.products)),
		units:      make(map[string]domain.ProductUnit, len(st.units)),
		backorders: make(map[string]domain.Backorder, len(st.backorders)),
		orders:     make(map[string]domain.Order, len(st.orders)),
		orderItems: make(map[string]domain.OrderItem, len(st.orderItems)),
		counters:   make(map[string]int64, len(st.counters)),
	}
	for k, v := range st.products {
		dup.products[k] = cloneProduct(v)
	}
	for k, v := range st.units {
		dup.units[k] = v
	}
	for k, v := range st.backorders {
		dup.backorders[k] = v
	}
	for k, v := range st.orders {
		dup.orders[k] = v
	}
	for k, v := range st.orderItems {
		dup.orderItems[k] = cloneOrderItem(v)
	}
	for k, v := range st.counters {
		dup.counters[k] = v
	}
	return dup
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store without users.
func New() *Store {
	return &Store{
		state:           newState(),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a demo store with seed users, a small catalog with stock
// and a fitment snapshot for one vehicle.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	products := []domain.Product{
		{ID: "prod-jl-c1-650", SKU: "C1-650X", Name: "JL Audio C1 6.5\" Coaxial", Category: "Speakers", Brand: "JL Audio", SpeakerSize: "6.5", PriceCents: 14999},
		{ID: "prod-kicker-csc69", SKU: "46CSC6934", Name: "Kicker CS 6x9 Coaxial", Category: "Speakers", Brand: "Kicker", SpeakerSize: "6x9", PriceCents: 12999},
		{ID: "prod-kicker-csc35", SKU: "46CSC354", Name: "Kicker CS 3.5\" Coaxial", Category: "Speakers", Brand: "Kicker", SpeakerSize: "3 1/2", PriceCents: 6999},
		{ID: "prod-kenwood-dmx", SKU: "DMX4707S", Name: "Kenwood DMX4707S Double DIN Receiver", Category: "Radios", Brand: "Kenwood", PriceCents: 39999},
		{ID: "prod-kenwood-kdc", SKU: "KDC-BT35", Name: "Kenwood KDC-BT35 Single DIN Receiver", Category: "Radios", Brand: "Kenwood", PriceCents: 12999},
		{ID: "prod-metra-997800", SKU: "99-7800", Name: "Metra Honda Civic Dash Kit", Category: "Dash Kits", Brand: "Metra", PartNumber: "99-7800", PriceCents: 2999},
		{ID: "prod-metra-701729", SKU: "70-1729", Name: "Metra Honda Harness", Category: "Harnesses", Brand: "Metra", PartNumber: "70-1729", PriceCents: 1999},
		{ID: "prod-axxess-mrr", SKU: "ADS-MRR-HON", Name: "Maestro RR Honda", Category: "Interfaces", Brand: "iDatalink", PartNumber: "ADS-MRR", PriceCents: 9999},
	}
	now := time.Now().UTC()
	stock := map[string][]string{
		"prod-jl-c1-650":    {"62.50", "62.50", "64.00"},
		"prod-kicker-csc69": {"48.00", "48.00"},
		"prod-kenwood-dmx":  {"240.00"},
		"prod-metra-997800": {"11.25", "11.25"},
	}
	for i, p := range products {
		p.CreatedAt = now
		p.AvgCost = decimal.Zero
		costs := stock[p.ID]
		for j, raw := range costs {
			cost := decimal.RequireFromString(raw)
			counter := "unit:" + xid.BrandCode(p.Brand)
			s.state.counters[counter]++
			seq := s.state.counters[counter]
			s.state.units[xid.UnitID(xid.BrandCode(p.Brand), seq)] = domain.ProductUnit{
				ID:         xid.UnitID(xid.BrandCode(p.Brand), seq),
				ProductID:  p.ID,
				Cost:       cost,
				Status:     domain.UnitInStock,
				ReceivedAt: now.Add(time.Duration(i*10+j) * time.Second),
				Seq:        seq,
			}
			p.AvgCost = p.AvgCost.Add(cost)
		}
		if len(costs) > 0 {
			p.AvgCost = p.AvgCost.DivRound(decimal.NewFromInt(int64(len(costs))), 4)
			p.AvgCostQty = int64(len(costs))
		}
		s.state.products[p.ID] = p
	}

	s.snapshot = domain.FitmentSnapshot{
		Fitments: []domain.VehicleFitmentRecord{{
			YearStart: 2016, YearEnd: 2021, Make: "Honda", Model: "Civic",
			Locations: []domain.Location{
				{Role: "Front Door", Sizes: []string{"6.5"}},
				{Role: "Rear Deck", Sizes: []string{"6x9"}},
				{Role: "Dash", Sizes: []string{"3.5"}},
			},
		}},
		Accessories: map[string]domain.VehicleAccessoryRecord{},
	}
	for year := 2016; year <= 2021; year++ {
		s.snapshot.Accessories[domainKey(year, "honda", "civic")] = domain.VehicleAccessoryRecord{
			AccessoryParts: domain.AccessoryParts{
				DashKits:  domain.DashKits{SingleDin: []string{"99-7800"}, DoubleDin: []string{"99-7800"}},
				Harnesses: domain.Harnesses{NonAmplified: domain.HarnessSet{IntoCar: []string{"70-1729"}}},
				Maestro:   []string{"ADS-MRR"},
			},
		}
	}
	return s
}

func domainKey(year int, mk, model string) string {
	return strconv.Itoa(year) + "|" + mk + "|" + model + "|"
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.SKU = strings.TrimSpace(product.SKU)
	if product.SKU == "" || strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.state.products {
		if strings.EqualFold(existing.SKU, product.SKU) {
			return nil, store.ErrConflict
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.state.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.state.products[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.state.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, product := range s.state.products {
		if strings.EqualFold(product.SKU, sku) {
			copyProduct := cloneProduct(product)
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

// GetStockMap counts in-stock units per product; no ids means every product.
func (s *Store) GetStockMap(_ context.Context, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int)
	if len(productIDs) == 0 {
		for id := range s.state.products {
			result[id] = 0
		}
	}
	for _, id := range productIDs {
		result[id] = 0
	}
	for _, unit := range s.state.units {
		if unit.Status != domain.UnitInStock {
			continue
		}
		if _, wanted := result[unit.ProductID]; wanted {
			result[unit.ProductID]++
		}
	}
	return result, nil
}

func (s *Store) ListUnits(_ context.Context, productID string, status string, limit int) ([]domain.ProductUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := filterUnits(s.state, productID, status)
	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	return units, nil
}

func (s *Store) ListBackorders(_ context.Context, filter domain.BackorderFilter) ([]domain.Backorder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Backorder, 0, 16)
	for _, b := range s.state.backorders {
		if filter.ProductID != "" && b.ProductID != filter.ProductID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		result = append(result, b)
	}
	slices.SortFunc(result, compareBackorderFIFO)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.state.orders[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	order.Items = orderItems(s.state, id)
	return &order, nil
}

func (s *Store) LoadFitmentSnapshot(_ context.Context) (domain.FitmentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := domain.FitmentSnapshot{
		Fitments:    slices.Clone(s.snapshot.Fitments),
		Accessories: make(map[string]domain.VehicleAccessoryRecord, len(s.snapshot.Accessories)),
	}
	for k, v := range s.snapshot.Accessories {
		snapshot.Accessories[k] = v
	}
	return snapshot, nil
}

func (s *Store) SaveFitmentSnapshot(_ context.Context, snapshot domain.FitmentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := domain.FitmentSnapshot{
		Fitments:    slices.Clone(snapshot.Fitments),
		Accessories: make(map[string]domain.VehicleAccessoryRecord, len(snapshot.Accessories)),
	}
	for k, v := range snapshot.Accessories {
		next.Accessories[k] = v
	}
	s.snapshot = next
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func filterUnits(st *state, productID string, status string) []domain.ProductUnit {
	units := make([]domain.ProductUnit, 0, 16)
	for _, unit := range st.units {
		if productID != "" && unit.ProductID != productID {
			continue
		}
		if status != "" && unit.Status != status {
			continue
		}
		units = append(units, unit)
	}
	slices.SortFunc(units, compareUnitFIFO)
	return units
}

func orderItems(st *state, orderID string) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, 4)
	for _, item := range st.orderItems {
		if item.OrderID == orderID {
			items = append(items, cloneOrderItem(item))
		}
	}
	slices.SortFunc(items, func(a, b domain.OrderItem) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return cmpString(a.ID, b.ID)
	})
	return items
}

func compareUnitFIFO(a, b domain.ProductUnit) int {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func compareBackorderFIFO(a, b domain.Backorder) int {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.SpeakerSizes = slices.Clone(src.SpeakerSizes)
	return dup
}

func cloneOrderItem(src domain.OrderItem) domain.OrderItem {
	dup := src
	dup.AssignedUnitIDs = make([]string, len(src.AssignedUnitIDs))
	copy(dup.AssignedUnitIDs, src.AssignedUnitIDs)
	return dup
}
