package recommendation

import (
	"cmp"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"caraudiopos/backend/internal/cache"
	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/fitment"
)

const KeyPrefix = "recommendation:"

// CacheRecorder counts shared cache reads.
type CacheRecorder interface {
	CacheLookup(cache string, hit bool)
}

type Engine struct {
	fitment  *fitment.Engine
	cache    cache.Store
	cacheTTL time.Duration
	logger   zerolog.Logger
	recorder CacheRecorder
}

func NewEngine(fit *fitment.Engine, cacheStore cache.Store, cacheTTL time.Duration, logger zerolog.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}

	return &Engine{
		fitment:  fit,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func (e *Engine) WithRecorder(r CacheRecorder) *Engine {
	e.recorder = r
	return e
}

// Loader returns the product catalog and in-stock counts by product id. It
// only runs when the response is not cached.
type Loader func(ctx context.Context) ([]domain.Product, map[string]int, error)

type prefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Recommend buckets the catalog for one vehicle: speakers per mounting
// location, accessories per group and radios the dash can take. Every bucket
// lists in-stock products first, then cheapest first. Responses are cached
// per snapshot version and request.
func (e *Engine) Recommend(ctx context.Context, req domain.RecommendationRequest, load Loader) (domain.RecommendationResponse, error) {
	version := e.fitment.Version()
	cacheKey := buildCacheKey(version, req)

	var cached domain.RecommendationResponse
	hit, err := e.cache.Get(ctx, cacheKey, &cached)
	if err != nil {
		hit = false
		e.logger.Warn().Err(err).Str("key", cacheKey).Msg("recommendation cache read failed")
	}
	if e.recorder != nil {
		e.recorder.CacheLookup("recommendation", hit)
	}
	if hit {
		return cached, nil
	}

	products, stockMap, err := load(ctx)
	if err != nil {
		return domain.RecommendationResponse{}, err
	}

	v := req.Vehicle
	rec := e.fitment.FindFitment(v.Year, v.Make, v.Model, v.Trim)
	din := e.fitment.AllowedDinSizes(v)
	filtered := fitment.ApplyFilter(products, req.Filter, rec)

	resp := domain.RecommendationResponse{
		Vehicle:         v,
		Fitment:         rec,
		Din:             din,
		Speakers:        speakerGroups(rec, req.Filter.Location, filtered, stockMap),
		DashKits:        []domain.RecommendedProduct{},
		Harnesses:       []domain.RecommendedProduct{},
		Antennas:        []domain.RecommendedProduct{},
		Interfaces:      []domain.RecommendedProduct{},
		Radios:          radios(filtered, din, stockMap),
		SnapshotVersion: version,
	}

	if acc := e.fitment.FindAccessories(v); acc != nil {
		for _, p := range fitment.MatchAccessories(acc, filtered) {
			item := withStock(p, stockMap)
			switch fitment.AccessoryGroup(*acc, p) {
			case fitment.GroupDashKit:
				resp.DashKits = append(resp.DashKits, item)
			case fitment.GroupHarness:
				resp.Harnesses = append(resp.Harnesses, item)
			case fitment.GroupAntenna:
				resp.Antennas = append(resp.Antennas, item)
			case fitment.GroupInterface:
				resp.Interfaces = append(resp.Interfaces, item)
			}
		}
	}
	for _, bucket := range [][]domain.RecommendedProduct{resp.DashKits, resp.Harnesses, resp.Antennas, resp.Interfaces} {
		rank(bucket)
	}

	resp.NoMatches = len(resp.Speakers) == 0 && len(resp.DashKits) == 0 && len(resp.Harnesses) == 0 &&
		len(resp.Antennas) == 0 && len(resp.Interfaces) == 0 && len(resp.Radios) == 0

	if err := e.cache.Set(ctx, cacheKey, resp, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Str("key", cacheKey).Msg("recommendation cache write failed")
	}
	return resp, nil
}

// Invalidate drops every cached response. Caches without prefix deletion are
// left to expire.
func (e *Engine) Invalidate(ctx context.Context) {
	deleter, ok := e.cache.(prefixDeleter)
	if !ok {
		return
	}
	removed, err := deleter.DeletePrefix(ctx, KeyPrefix)
	if err != nil {
		e.logger.Warn().Err(err).Msg("recommendation cache invalidation failed")
		return
	}
	e.logger.Debug().Int("removed", removed).Msg("recommendation cache invalidated")
}

// speakerGroups returns one group per mounting location that has at least one
// fitting speaker. A location filter keeps only that location.
func speakerGroups(rec *domain.VehicleFitmentRecord, location string, products []domain.Product, stockMap map[string]int) []domain.LocationGroup {
	groups := make([]domain.LocationGroup, 0)
	if rec == nil {
		return groups
	}
	location = strings.TrimSpace(location)
	for _, loc := range rec.Locations {
		if location != "" && !strings.EqualFold(loc.Role, location) {
			continue
		}
		single := &domain.VehicleFitmentRecord{Locations: []domain.Location{loc}}
		matched := fitment.MatchProducts(single, products)
		if len(matched) == 0 {
			continue
		}
		items := make([]domain.RecommendedProduct, 0, len(matched))
		for _, p := range matched {
			items = append(items, withStock(p, stockMap))
		}
		rank(items)
		groups = append(groups, domain.LocationGroup{
			Role:     loc.Role,
			Sizes:    fitment.CanonicalSet(loc.Sizes),
			Products: items,
		})
	}
	return groups
}

func isRadio(p domain.Product) bool {
	category := strings.ToLower(p.Category)
	return strings.Contains(category, "radio") || strings.Contains(category, "receiver") || strings.Contains(category, "head unit")
}

// radios keeps head units whose chassis the dash accepts. A radio of unknown
// size needs either opening to be available.
func radios(products []domain.Product, din domain.DinSizes, stockMap map[string]int) []domain.RecommendedProduct {
	out := make([]domain.RecommendedProduct, 0)
	if !din.SingleDin && !din.DoubleDin {
		return out
	}
	for _, p := range products {
		if !isRadio(p) {
			continue
		}
		switch fitment.DinClass(p) {
		case fitment.DinSingle:
			if !din.SingleDin {
				continue
			}
		case fitment.DinDouble:
			if !din.DoubleDin {
				continue
			}
		}
		out = append(out, withStock(p, stockMap))
	}
	rank(out)
	return out
}

func withStock(p domain.Product, stockMap map[string]int) domain.RecommendedProduct {
	return domain.RecommendedProduct{Product: p, InStock: stockMap[p.ID]}
}

func rank(items []domain.RecommendedProduct) {
	slices.SortStableFunc(items, func(a, b domain.RecommendedProduct) int {
		aIn, bIn := a.InStock > 0, b.InStock > 0
		if aIn != bIn {
			if aIn {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.PriceCents, b.PriceCents); c != 0 {
			return c
		}
		return cmp.Compare(a.SKU, b.SKU)
	})
}

func buildCacheKey(version string, req domain.RecommendationRequest) string {
	normalized := struct {
		Year     int    `json:"y"`
		Make     string `json:"mk"`
		Model    string `json:"md"`
		Trim     string `json:"t"`
		Category string `json:"c"`
		Brand    string `json:"b"`
		Location string `json:"l"`
		Din      string `json:"d"`
	}{
		Year:     req.Vehicle.Year,
		Make:     strings.ToLower(strings.TrimSpace(req.Vehicle.Make)),
		Model:    strings.ToLower(strings.TrimSpace(req.Vehicle.Model)),
		Trim:     strings.ToLower(strings.TrimSpace(req.Vehicle.Trim)),
		Category: strings.ToLower(strings.TrimSpace(req.Filter.Category)),
		Brand:    strings.ToLower(strings.TrimSpace(req.Filter.Brand)),
		Location: strings.ToLower(strings.TrimSpace(req.Filter.Location)),
		Din:      strings.ToLower(strings.TrimSpace(req.Filter.Din)),
	}
	data, _ := json.Marshal(normalized)
	sum := sha1.Sum(data)
	return KeyPrefix + version + ":" + hex.EncodeToString(sum[:])
}
