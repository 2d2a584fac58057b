package fitment

import (
	"sort"
	"strings"

	"caraudiopos/backend/internal/domain"
)

// sentinels are vendor placeholders meaning "not applicable". They are compared
// case-insensitively after trimming and never stored in a part set.
var sentinels = map[string]struct{}{
	"n/a": {},
	"-":   {},
	"n/r": {},
}

func IsSentinel(value string) bool {
	_, ok := sentinels[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

const (
	GroupDashKit   = "dash_kit"
	GroupHarness   = "harness"
	GroupAntenna   = "antenna"
	GroupInterface = "interface"
)

type partField struct {
	group string
	set   *[]string
}

func partFields(p *domain.AccessoryParts) []partField {
	return []partField{
		{GroupDashKit, &p.DashKits.SingleDin},
		{GroupDashKit, &p.DashKits.DoubleDin},
		{GroupHarness, &p.Harnesses.Amplified.IntoCar},
		{GroupHarness, &p.Harnesses.Amplified.IntoRadio},
		{GroupHarness, &p.Harnesses.Amplified.Bypass},
		{GroupHarness, &p.Harnesses.NonAmplified.IntoCar},
		{GroupHarness, &p.Harnesses.NonAmplified.IntoRadio},
		{GroupHarness, &p.Harnesses.NonAmplified.Bypass},
		{GroupAntenna, &p.Antennas.Adapter},
		{GroupAntenna, &p.Antennas.Power},
		{GroupAntenna, &p.Antennas.Fixed},
		{GroupAntenna, &p.Antennas.Antenna},
		{GroupInterface, &p.Maestro},
	}
}

// NormalizeParts trims, drops sentinels and blanks, dedupes and sorts. The
// result is never nil so empty sets encode as [].
func NormalizeParts(values ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, set := range values {
		for _, v := range set {
			v = strings.TrimSpace(v)
			if v == "" || IsSentinel(v) {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// MergeParts returns the per-field union of a and b.
func MergeParts(a, b domain.AccessoryParts) domain.AccessoryParts {
	var out domain.AccessoryParts
	dst := partFields(&out)
	left := partFields(&a)
	right := partFields(&b)
	for i := range dst {
		*dst[i].set = NormalizeParts(*left[i].set, *right[i].set)
	}
	return out
}

// NormalizeAccessory canonicalizes every set of the record and bubbles the
// vendor sub-block up into the top-level union.
func NormalizeAccessory(rec domain.VehicleAccessoryRecord) domain.VehicleAccessoryRecord {
	out := domain.VehicleAccessoryRecord{AccessoryParts: MergeParts(rec.AccessoryParts, domain.AccessoryParts{})}
	if rec.Scosche != nil {
		sub := MergeParts(*rec.Scosche, domain.AccessoryParts{})
		out.Scosche = &sub
		out.AccessoryParts = MergeParts(out.AccessoryParts, sub)
	}
	return out
}

// MergeAccessory unions two records for the same vehicle key.
func MergeAccessory(a, b domain.VehicleAccessoryRecord) domain.VehicleAccessoryRecord {
	out := domain.VehicleAccessoryRecord{AccessoryParts: MergeParts(a.AccessoryParts, b.AccessoryParts)}
	if a.Scosche != nil || b.Scosche != nil {
		var left, right domain.AccessoryParts
		if a.Scosche != nil {
			left = *a.Scosche
		}
		if b.Scosche != nil {
			right = *b.Scosche
		}
		sub := MergeParts(left, right)
		out.Scosche = &sub
		out.AccessoryParts = MergeParts(out.AccessoryParts, sub)
	}
	return out
}

// AllPartNumbers is the union of every part number referenced by the record.
func AllPartNumbers(rec domain.VehicleAccessoryRecord) []string {
	sets := make([][]string, 0, 26)
	for _, f := range partFields(&rec.AccessoryParts) {
		sets = append(sets, *f.set)
	}
	if rec.Scosche != nil {
		for _, f := range partFields(rec.Scosche) {
			sets = append(sets, *f.set)
		}
	}
	return NormalizeParts(sets...)
}

// GroupPartNumbers returns the part numbers of one accessory group.
func GroupPartNumbers(rec domain.VehicleAccessoryRecord, group string) []string {
	sets := make([][]string, 0, 8)
	collect := func(p *domain.AccessoryParts) {
		for _, f := range partFields(p) {
			if f.group == group {
				sets = append(sets, *f.set)
			}
		}
	}
	collect(&rec.AccessoryParts)
	if rec.Scosche != nil {
		collect(rec.Scosche)
	}
	return NormalizeParts(sets...)
}

// IsEmpty reports whether the record carries no part numbers at all.
func IsEmpty(rec domain.VehicleAccessoryRecord) bool {
	return len(AllPartNumbers(rec)) == 0
}
