package fitment

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"caraudiopos/backend/internal/cache"
	"caraudiopos/backend/internal/domain"
)

// OptionsKeyPrefix namespaces option lists in the shared cache.
const OptionsKeyPrefix = "fitment:options:"

// Engine answers vehicle queries against the current catalog. Option lists are
// served through a read-through cache: an in-process memo tied to the catalog
// instance, then the shared cache store, keyed by catalog version. Reload swaps
// the catalog and with it the memo, so stale options are never served.
type Engine struct {
	current atomic.Pointer[loadedCatalog]
	shared  cache.Store
	ttl     time.Duration
	group   singleflight.Group
	logger  zerolog.Logger
}

type loadedCatalog struct {
	catalog *Catalog
	memo    sync.Map
}

func NewEngine(catalog *Catalog, shared cache.Store, ttl time.Duration, logger zerolog.Logger) *Engine {
	if catalog == nil {
		catalog = NewCatalog(domain.FitmentSnapshot{})
	}
	if shared == nil {
		shared = cache.Noop{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	e := &Engine{shared: shared, ttl: ttl, logger: logger}
	e.current.Store(&loadedCatalog{catalog: catalog})
	return e
}

// Reload installs a new catalog. In-flight readers finish against the old one.
func (e *Engine) Reload(catalog *Catalog) {
	if catalog == nil {
		return
	}
	prev := e.current.Swap(&loadedCatalog{catalog: catalog})
	fitments, accessories := catalog.Counts()
	e.logger.Info().
		Str("version", catalog.Version()).
		Str("previous_version", prev.catalog.Version()).
		Int("fitments", fitments).
		Int("accessories", accessories).
		Msg("fitment catalog reloaded")
}

func (e *Engine) Catalog() *Catalog {
	return e.current.Load().catalog
}

func (e *Engine) Version() string {
	return e.Catalog().Version()
}

func (e *Engine) YearOptions(ctx context.Context) []int {
	return cachedOptions(ctx, e, "years", func(c *Catalog) []int { return c.Years() })
}

func (e *Engine) MakeOptions(ctx context.Context, year int) []string {
	return cachedOptions(ctx, e, fmt.Sprintf("makes:%d", year), func(c *Catalog) []string { return c.Makes(year) })
}

func (e *Engine) ModelOptions(ctx context.Context, year int, mk string) []string {
	suffix := fmt.Sprintf("models:%d:%s", year, normalizePart(mk))
	return cachedOptions(ctx, e, suffix, func(c *Catalog) []string { return c.Models(year, mk) })
}

// FindFitment returns nil when the vehicle is unknown; that is "no matches",
// not a fault.
func (e *Engine) FindFitment(year int, mk, model, trim string) *domain.VehicleFitmentRecord {
	rec, ok := e.Catalog().Fitment(year, mk, model, trim)
	if !ok {
		return nil
	}
	return &rec
}

func (e *Engine) FindAccessories(v domain.Vehicle) *domain.VehicleAccessoryRecord {
	rec, ok := e.Catalog().Accessories(v.Year, v.Make, v.Model, v.Trim)
	if !ok {
		return nil
	}
	return &rec
}

func (e *Engine) MatchProductsToVehicle(rec *domain.VehicleFitmentRecord, products []domain.Product) []domain.Product {
	return MatchProducts(rec, products)
}

func (e *Engine) MatchAccessoriesToVehicle(v domain.Vehicle, products []domain.Product) []domain.Product {
	return MatchAccessories(e.FindAccessories(v), products)
}

func (e *Engine) AllowedDinSizes(v domain.Vehicle) domain.DinSizes {
	return AllowedDinSizes(e.FindAccessories(v))
}

func cachedOptions[T any](ctx context.Context, e *Engine, suffix string, compute func(*Catalog) []T) []T {
	loaded := e.current.Load()
	key := OptionsKeyPrefix + loaded.catalog.Version() + ":" + suffix
	if v, ok := loaded.memo.Load(key); ok {
		return slices.Clone(v.([]T))
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		var values []T
		hit, err := e.shared.Get(ctx, key, &values)
		if err != nil {
			e.logger.Warn().Err(err).Str("key", key).Msg("options cache read failed")
		}
		if !hit || err != nil {
			values = compute(loaded.catalog)
			if err := e.shared.Set(ctx, key, values, e.ttl); err != nil {
				e.logger.Warn().Err(err).Str("key", key).Msg("options cache write failed")
			}
		}
		if values == nil {
			values = []T{}
		}
		loaded.memo.Store(key, values)
		return values, nil
	})
	return slices.Clone(v.([]T))
}
