package fitment

import (
	"strconv"
	"strings"
)

// truckNames is the closed table of model spellings that vendors disagree on.
var truckNames = [][2]string{
	{"f-150", "f150"},
	{"f-250", "f250"},
	{"f-350", "f350"},
	{"f-450", "f450"},
	{"e-150", "e150"},
	{"e-250", "e250"},
	{"e-350", "e350"},
	{"c/k 1500", "ck1500"},
	{"c/k 2500", "ck2500"},
	{"ram 1500", "1500"},
	{"cr-v", "crv"},
	{"hr-v", "hrv"},
	{"cx-5", "cx5"},
	{"rav-4", "rav4"},
}

func normalizePart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// BuildKey derives the lookup key "{year}|{make}|{model}|{trim}". An empty trim
// leaves the last segment empty.
func BuildKey(year int, mk, model, trim string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(year))
	b.WriteByte('|')
	b.WriteString(normalizePart(mk))
	b.WriteByte('|')
	b.WriteString(normalizePart(model))
	b.WriteByte('|')
	b.WriteString(normalizePart(trim))
	return b.String()
}

// keyPrefix is the (year, make, model) part of a key including the final
// separator, used for the any-trim scan.
func keyPrefix(year int, mk, model string) string {
	return BuildKey(year, mk, model, "")
}

// NormalizeKey rewrites a stored "{year}|{make}|{model}[|{trim}]" key into the
// 4-part lowercase form produced by BuildKey.
func NormalizeKey(key string) (string, bool) {
	year, mk, model, trim, ok := ParseKey(key)
	if !ok {
		return "", false
	}
	return BuildKey(year, mk, model, trim), true
}

// ParseKey splits a 3- or 4-part vehicle key.
func ParseKey(key string) (year int, mk, model, trim string, ok bool) {
	parts := strings.Split(key, "|")
	if len(parts) < 3 || len(parts) > 4 {
		return 0, "", "", "", false
	}
	year, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || year <= 0 {
		return 0, "", "", "", false
	}
	mk = strings.TrimSpace(parts[1])
	model = strings.TrimSpace(parts[2])
	if mk == "" || model == "" {
		return 0, "", "", "", false
	}
	if len(parts) == 4 {
		trim = strings.TrimSpace(parts[3])
	}
	return year, mk, model, trim, true
}

// ModelVariants returns the spellings tried for a model: the raw value first,
// then hyphen-free, whitespace-free and known truck-name forms.
func ModelVariants(model string) []string {
	raw := strings.TrimSpace(model)
	variants := []string{raw}
	seen := map[string]struct{}{normalizePart(raw): {}}
	add := func(v string) {
		n := normalizePart(v)
		if n == "" {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		variants = append(variants, v)
	}

	add(strings.ReplaceAll(raw, "-", ""))
	add(strings.Join(strings.Fields(raw), ""))
	add(strings.Join(strings.Fields(strings.ReplaceAll(raw, "-", "")), ""))

	norm := normalizePart(raw)
	for _, pair := range truckNames {
		switch norm {
		case pair[0]:
			add(pair[1])
		case pair[1]:
			add(pair[0])
		}
	}
	return variants
}
