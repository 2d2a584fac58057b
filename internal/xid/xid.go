package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "order-3f0c...".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// UnitID formats a human-readable unit identifier from a brand code and the
// brand's counter value, e.g. "JLA-000123".
func UnitID(brandCode string, seq int64) string {
	return fmt.Sprintf("%s-%06d", brandCode, seq)
}

// BrandCode derives the unit id prefix of a brand: its first three letters or
// digits, upper-cased. Brands without any yield "GEN".
func BrandCode(brand string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(brand) {
		if b.Len() == 3 {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "GEN"
	}
	return b.String()
}
