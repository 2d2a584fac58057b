package fitment

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"caraudiopos/backend/internal/domain"
)

// Catalog is an immutable read model of vehicle fitment and accessory records.
// Sources are merged while it is built, never at query time.
type Catalog struct {
	fitments      map[string]domain.VehicleFitmentRecord
	fitmentKeys   []string
	accessories   map[string]domain.VehicleAccessoryRecord
	accessoryKeys []string
	vehicles      []vehicleEntry
	version       string
}

type vehicleEntry struct {
	year  int
	mk    string
	model string
}

func NewCatalog(snapshot domain.FitmentSnapshot) *Catalog {
	c := &Catalog{
		fitments:    make(map[string]domain.VehicleFitmentRecord),
		accessories: make(map[string]domain.VehicleAccessoryRecord),
	}

	for _, rec := range snapshot.Fitments {
		start, end := rec.YearStart, rec.YearEnd
		if start > end {
			start, end = end, start
		}
		if start <= 0 || strings.TrimSpace(rec.Make) == "" || strings.TrimSpace(rec.Model) == "" {
			continue
		}
		normalized := domain.VehicleFitmentRecord{
			YearStart: start,
			YearEnd:   end,
			Make:      strings.TrimSpace(rec.Make),
			Model:     strings.TrimSpace(rec.Model),
			Trim:      strings.TrimSpace(rec.Trim),
			Locations: mergeLocations(nil, rec.Locations),
		}
		for year := start; year <= end; year++ {
			key := BuildKey(year, normalized.Make, normalized.Model, normalized.Trim)
			if existing, ok := c.fitments[key]; ok {
				c.fitments[key] = mergeFitment(existing, normalized)
			} else {
				c.fitments[key] = normalized
			}
			c.vehicles = append(c.vehicles, vehicleEntry{year: year, mk: normalized.Make, model: normalized.Model})
		}
	}

	title := cases.Title(language.English)
	for rawKey, rec := range snapshot.Accessories {
		year, mk, model, trim, ok := ParseKey(rawKey)
		if !ok {
			continue
		}
		key := BuildKey(year, mk, model, trim)
		rec = NormalizeAccessory(rec)
		if existing, ok := c.accessories[key]; ok {
			rec = MergeAccessory(existing, rec)
		}
		c.accessories[key] = rec
		c.vehicles = append(c.vehicles, vehicleEntry{year: year, mk: displayName(title, mk), model: displayName(title, model)})
	}

	c.fitmentKeys = sortedKeys(c.fitments)
	c.accessoryKeys = sortedKeys(c.accessories)
	c.version = fingerprint(snapshot)
	return c
}

// Version identifies the snapshot content. Equal content yields equal versions
// across processes, so it is safe to use in shared cache keys.
func (c *Catalog) Version() string {
	return c.version
}

func (c *Catalog) Counts() (fitments int, accessories int) {
	return len(c.fitments), len(c.accessories)
}

// Fitment resolves a vehicle through the key fallback chain.
func (c *Catalog) Fitment(year int, mk, model, trim string) (domain.VehicleFitmentRecord, bool) {
	rec, ok := lookup(c.fitments, c.fitmentKeys, year, mk, model, trim)
	if !ok {
		return domain.VehicleFitmentRecord{}, false
	}
	rec.Locations = cloneLocations(rec.Locations)
	return rec, true
}

func (c *Catalog) Accessories(year int, mk, model, trim string) (domain.VehicleAccessoryRecord, bool) {
	return lookup(c.accessories, c.accessoryKeys, year, mk, model, trim)
}

func (c *Catalog) Years() []int {
	set := make(map[int]struct{})
	for _, v := range c.vehicles {
		set[v.year] = struct{}{}
	}
	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

func (c *Catalog) Makes(year int) []string {
	names := make(map[string]string)
	for _, v := range c.vehicles {
		if v.year != year {
			continue
		}
		addDisplay(names, v.mk)
	}
	return sortedDisplay(names)
}

func (c *Catalog) Models(year int, mk string) []string {
	want := normalizePart(mk)
	names := make(map[string]string)
	for _, v := range c.vehicles {
		if v.year != year || normalizePart(v.mk) != want {
			continue
		}
		addDisplay(names, v.model)
	}
	return sortedDisplay(names)
}

// lookup tries, for every model variant in turn: the exact 4-part key, the
// empty-trim key, then any stored key sharing the (year, make, model) prefix.
func lookup[T any](index map[string]T, sorted []string, year int, mk, model, trim string) (T, bool) {
	var zero T
	if year <= 0 || strings.TrimSpace(mk) == "" || strings.TrimSpace(model) == "" {
		return zero, false
	}
	variants := ModelVariants(model)
	if strings.TrimSpace(trim) != "" {
		for _, v := range variants {
			if rec, ok := index[BuildKey(year, mk, v, trim)]; ok {
				return rec, true
			}
		}
	}
	for _, v := range variants {
		if rec, ok := index[keyPrefix(year, mk, v)]; ok {
			return rec, true
		}
	}
	for _, v := range variants {
		prefix := keyPrefix(year, mk, v)
		i := sort.SearchStrings(sorted, prefix)
		if i < len(sorted) && strings.HasPrefix(sorted[i], prefix) {
			return index[sorted[i]], true
		}
	}
	return zero, false
}

func mergeFitment(a, b domain.VehicleFitmentRecord) domain.VehicleFitmentRecord {
	out := a
	if b.YearStart < out.YearStart {
		out.YearStart = b.YearStart
	}
	if b.YearEnd > out.YearEnd {
		out.YearEnd = b.YearEnd
	}
	out.Locations = mergeLocations(a.Locations, b.Locations)
	return out
}

// mergeLocations unions locations by role (case-insensitive), keeping the
// first-seen order and canonicalizing sizes.
func mergeLocations(a, b []domain.Location) []domain.Location {
	out := make([]domain.Location, 0, len(a)+len(b))
	index := make(map[string]int)
	for _, loc := range append(cloneLocations(a), b...) {
		role := strings.TrimSpace(loc.Role)
		key := strings.ToLower(role)
		if i, ok := index[key]; ok {
			out[i].Sizes = CanonicalSet(append(out[i].Sizes, loc.Sizes...))
			continue
		}
		index[key] = len(out)
		out = append(out, domain.Location{Role: role, Sizes: CanonicalSet(loc.Sizes)})
	}
	return out
}

func cloneLocations(locs []domain.Location) []domain.Location {
	out := make([]domain.Location, len(locs))
	for i, loc := range locs {
		out[i] = domain.Location{Role: loc.Role, Sizes: append([]string(nil), loc.Sizes...)}
	}
	return out
}

func displayName(title cases.Caser, s string) string {
	s = strings.TrimSpace(s)
	if s != strings.ToLower(s) {
		return s
	}
	return title.String(s)
}

func addDisplay(names map[string]string, display string) {
	key := normalizePart(display)
	if key == "" {
		return
	}
	if _, ok := names[key]; !ok {
		names[key] = strings.TrimSpace(display)
	}
}

func sortedDisplay(names map[string]string) []string {
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = names[k]
	}
	return out
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fingerprint(snapshot domain.FitmentSnapshot) string {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "unversioned"
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:8])
}
