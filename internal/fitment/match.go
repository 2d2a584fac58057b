package fitment

import (
	"strings"

	"caraudiopos/backend/internal/domain"
)

func IsSpeaker(p domain.Product) bool {
	return strings.Contains(strings.ToLower(p.Category), "speaker")
}

// VehicleSizes is the union of canonical sizes across every mounting location.
func VehicleSizes(rec domain.VehicleFitmentRecord) []string {
	all := make([]string, 0, 8)
	for _, loc := range rec.Locations {
		all = append(all, loc.Sizes...)
	}
	return CanonicalSet(all)
}

// MatchProducts keeps speakers with at least one size fitting any of the
// vehicle's locations. A nil fitment matches nothing.
func MatchProducts(rec *domain.VehicleFitmentRecord, products []domain.Product) []domain.Product {
	if rec == nil {
		return []domain.Product{}
	}
	return filterBySizes(VehicleSizes(*rec), products)
}

func filterBySizes(vehicleSizes []string, products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0)
	if len(vehicleSizes) == 0 {
		return out
	}
	for _, p := range products {
		if !IsSpeaker(p) {
			continue
		}
		if productFits(p, vehicleSizes) {
			out = append(out, p)
		}
	}
	return out
}

func productFits(p domain.Product, vehicleSizes []string) bool {
	for _, size := range p.Sizes() {
		for _, vs := range vehicleSizes {
			if SizesMatch(size, vs) {
				return true
			}
		}
	}
	return false
}

// MatchAccessories keeps products whose code equals or starts with an allowed
// part number, ignoring case. See ProductCode.
func MatchAccessories(rec *domain.VehicleAccessoryRecord, products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0)
	if rec == nil {
		return out
	}
	allowed := lowerAll(AllPartNumbers(*rec))
	if len(allowed) == 0 {
		return out
	}
	for _, p := range products {
		if matchesCode(p, allowed) {
			out = append(out, p)
		}
	}
	return out
}

// AccessoryGroup reports which accessory group a product matched, or "".
func AccessoryGroup(rec domain.VehicleAccessoryRecord, p domain.Product) string {
	for _, group := range []string{GroupDashKit, GroupHarness, GroupAntenna, GroupInterface} {
		if matchesCode(p, lowerAll(GroupPartNumbers(rec, group))) {
			return group
		}
	}
	return ""
}

// AllowedDinSizes is conservative: no record, or an empty kit list, means no.
func AllowedDinSizes(rec *domain.VehicleAccessoryRecord) domain.DinSizes {
	if rec == nil {
		return domain.DinSizes{}
	}
	single := NormalizeParts(rec.DashKits.SingleDin)
	double := NormalizeParts(rec.DashKits.DoubleDin)
	if rec.Scosche != nil {
		single = NormalizeParts(single, rec.Scosche.DashKits.SingleDin)
		double = NormalizeParts(double, rec.Scosche.DashKits.DoubleDin)
	}
	return domain.DinSizes{SingleDin: len(single) > 0, DoubleDin: len(double) > 0}
}

// ProductCode is the identifying code of a product: its SKU, else its part
// number, else its name.
func ProductCode(p domain.Product) string {
	for _, code := range []string{p.SKU, p.PartNumber, p.Name} {
		if code = strings.TrimSpace(code); code != "" {
			return code
		}
	}
	return ""
}

func matchesCode(p domain.Product, allowed []string) bool {
	code := strings.ToLower(ProductCode(p))
	if code == "" {
		return false
	}
	for _, part := range allowed {
		if strings.HasPrefix(code, part) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
