package fitment

import (
	"strings"

	"caraudiopos/backend/internal/domain"
)

const (
	DinSingle = "single"
	DinDouble = "double"
)

// DinClass guesses a radio's chassis size from its name and category.
func DinClass(p domain.Product) string {
	text := strings.ToLower(p.Name + " " + p.Category)
	switch {
	case strings.Contains(text, "double din"), strings.Contains(text, "double-din"),
		strings.Contains(text, "2-din"), strings.Contains(text, "2 din"), strings.Contains(text, "2din"):
		return DinDouble
	case strings.Contains(text, "single din"), strings.Contains(text, "single-din"),
		strings.Contains(text, "1-din"), strings.Contains(text, "1 din"), strings.Contains(text, "1din"):
		return DinSingle
	}
	return ""
}

// ApplyFilter narrows an already-resolved product list. The location filter
// keeps products with a size fitting that mounting location of the vehicle.
func ApplyFilter(products []domain.Product, filter domain.RecommendationFilter, rec *domain.VehicleFitmentRecord) []domain.Product {
	category := strings.TrimSpace(filter.Category)
	brand := strings.TrimSpace(filter.Brand)
	role := strings.TrimSpace(filter.Location)
	din := strings.ToLower(strings.TrimSpace(filter.Din))

	var locationSizes []string
	if role != "" && rec != nil {
		for _, loc := range rec.Locations {
			if strings.EqualFold(loc.Role, role) {
				locationSizes = CanonicalSet(loc.Sizes)
				break
			}
		}
	}

	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if brand != "" && !strings.EqualFold(p.Brand, brand) {
			continue
		}
		if role != "" && !productFits(p, locationSizes) {
			continue
		}
		if din != "" && DinClass(p) != din {
			continue
		}
		out = append(out, p)
	}
	return out
}
