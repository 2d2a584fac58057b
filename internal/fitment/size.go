package fitment

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// SizeTolerance is the numeric slack, in inches, used when matching a product
// size against a vehicle opening. It is looser than bucketing so 6.5"/6.75"
// vendor disagreement still matches.
const SizeTolerance = 0.35

var (
	ovalPattern     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:x|by)\s*(\d+(?:\.\d+)?)`)
	unitPattern     = regexp.MustCompile(`(?:inches|inch|in)\b\.?`)
	wayPattern      = regexp.MustCompile(`\b\d+\s*-?\s*ways?\b`)
	mixedPattern    = regexp.MustCompile(`(?:^|[^\d.])(\d+)\s*[-\s]\s*(\d+)\s*/\s*(\d+)(?:$|[^\d.])`)
	fractionPattern = regexp.MustCompile(`(?:^|[^\d.])(\d+)\s*/\s*(\d+)(?:$|[^\d.])`)
	decimalPattern  = regexp.MustCompile(`\d*\.\d+|\d+`)
)

type bucket struct {
	low, high float64
	label     string
}

// Inclusive ranges tuned to common retail sizes. No bucket spans an oval.
var sizeBuckets = []bucket{
	{6.4, 6.8, "6.5"},
	{5.1, 5.4, "5.25"},
	{3.4, 3.6, "3.5"},
	{3.9, 4.1, "4"},
	{4.9, 5.05, "5"},
	{6.9, 7.1, "7"},
	{7.9, 8.1, "8"},
}

var glyphReplacer = strings.NewReplacer(
	"¼", " 1/4",
	"½", " 1/2",
	"¾", " 3/4",
	"″", "",
	"”", "",
	"\"", "",
	"×", "x",
)

func cleanSize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = glyphReplacer.Replace(s)
	s = wayPattern.ReplaceAllString(s, "")
	s = unitPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Canonicalize returns the comparable form of a free-text size: "AxB" for
// ovals, a bucketed inch value with a trailing quote for round sizes, or the
// trimmed input when no size can be parsed.
func Canonicalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	cleaned := cleanSize(trimmed)
	if oval, ok := parseOval(cleaned); ok {
		return oval
	}
	inches, ok := parseRound(cleaned)
	if !ok {
		return trimmed
	}
	return snap(inches) + `"`
}

// IsOval reports whether raw describes an oval "AxB" size.
func IsOval(raw string) bool {
	_, ok := parseOval(cleanSize(raw))
	return ok
}

// ParseInches returns the decimal inch value of a round size. Ovals and
// unparseable input report false.
func ParseInches(raw string) (float64, bool) {
	cleaned := cleanSize(raw)
	if cleaned == "" {
		return 0, false
	}
	if _, ok := parseOval(cleaned); ok {
		return 0, false
	}
	return parseRound(cleaned)
}

// SizesMatch reports whether a product size fits a vehicle size. Ovals only
// match the same oval. Round sizes match when they share a bucket or lie
// within SizeTolerance. A side with no parseable size never matches.
func SizesMatch(productSize, vehicleSize string) bool {
	ovalA, ovalB := IsOval(productSize), IsOval(vehicleSize)
	if ovalA || ovalB {
		return ovalA && ovalB && Canonicalize(productSize) == Canonicalize(vehicleSize)
	}
	va, okA := ParseInches(productSize)
	vb, okB := ParseInches(vehicleSize)
	if !okA || !okB {
		return false
	}
	if Canonicalize(productSize) == Canonicalize(vehicleSize) {
		return true
	}
	return math.Abs(va-vb) <= SizeTolerance+1e-9
}

func parseOval(cleaned string) (string, bool) {
	m := ovalPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return "", false
	}
	return m[1] + "x" + m[2], true
}

func parseRound(cleaned string) (float64, bool) {
	if m := mixedPattern.FindStringSubmatch(cleaned); m != nil {
		whole, _ := strconv.ParseFloat(m[1], 64)
		frac, ok := fraction(m[2], m[3])
		return whole + frac, ok
	}
	if m := fractionPattern.FindStringSubmatch(cleaned); m != nil {
		return fraction(m[1], m[2])
	}
	if m := decimalPattern.FindString(cleaned); m != "" {
		v, err := strconv.ParseFloat(m, 64)
		if err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

func fraction(num, den string) (float64, bool) {
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}

func snap(inches float64) string {
	for _, b := range sizeBuckets {
		if inches >= b.low-1e-9 && inches <= b.high+1e-9 {
			return b.label
		}
	}
	rounded := math.Round(inches*4) / 4
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// CanonicalSet canonicalizes and dedupes sizes, preserving first-seen order.
func CanonicalSet(sizes []string) []string {
	seen := make(map[string]struct{}, len(sizes))
	out := make([]string, 0, len(sizes))
	for _, raw := range sizes {
		c := Canonicalize(raw)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
