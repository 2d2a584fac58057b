package fitment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeRoundSizes(t *testing.T) {
	cases := map[string]string{
		"6.5":         `6.5"`,
		"6 1/2":       `6.5"`,
		`6-1/2"`:      `6.5"`,
		"6 3/4 inch":  `6.5"`,
		"6½″":         `6.5"`,
		"6.75in":      `6.5"`,
		"5 1/4":       `5.25"`,
		"5.25 inches": `5.25"`,
		"3.5":         `3.5"`,
		"4":           `4"`,
		"4.1":         `4"`,
		"5":           `5"`,
		"7":           `7"`,
		"8 in":        `8"`,
		"10":          `10"`,
		"2.8":         `2.75"`,
		"3/4":         `0.75"`,
		"  6.5  ":     `6.5"`,
	}
	for raw, want := range cases {
		require.Equal(t, want, Canonicalize(raw), "raw=%q", raw)
	}
}

func TestCanonicalizeDoesNotReadFractionsInsideDecimals(t *testing.T) {
	cases := map[string]string{
		"6.5/6.75":         `6.5"`,
		`6.5" / 6.75"`:     `6.5"`,
		"5.25/6.5":         `5.25"`,
		"2-way 6.5":        `6.5"`,
		"3 way 5 1/4 inch": `5.25"`,
		"2-way":            "2-way",
		"1/2":              `0.5"`,
	}
	for raw, want := range cases {
		require.Equal(t, want, Canonicalize(raw), "raw=%q", raw)
	}
}

func TestCanonicalizeOvalsStayOval(t *testing.T) {
	cases := map[string]string{
		"6x9":       "6x9",
		"6 X 9":     "6x9",
		"6 by 9":    "6x9",
		`6x9"`:      "6x9",
		"5×7":       "5x7",
		"6x8 inch":  "6x8",
		"4 x 10 in": "4x10",
	}
	for raw, want := range cases {
		require.Equal(t, want, Canonicalize(raw), "raw=%q", raw)
		require.True(t, IsOval(raw), "raw=%q", raw)
	}
}

func TestCanonicalizeFailsSoftToTrimmedInput(t *testing.T) {
	require.Equal(t, "N/A", Canonicalize("  N/A "))
	require.Equal(t, "Component", Canonicalize("Component"))
	require.Equal(t, "", Canonicalize("   "))
}

func TestParseInches(t *testing.T) {
	v, ok := ParseInches("6 3/4")
	require.True(t, ok)
	require.InDelta(t, 6.75, v, 1e-9)

	v, ok = ParseInches("1/2")
	require.True(t, ok)
	require.InDelta(t, 0.5, v, 1e-9)

	_, ok = ParseInches("6x9")
	require.False(t, ok)

	_, ok = ParseInches("none")
	require.False(t, ok)

	_, ok = ParseInches("3/0")
	require.False(t, ok)
}

func TestSizesMatch(t *testing.T) {
	require.True(t, SizesMatch("6.5", "6 3/4"))
	require.True(t, SizesMatch("6.75", "6.5"))
	require.True(t, SizesMatch("6x9", "6 X 9"))
	require.True(t, SizesMatch("6.8", "6.4"), "identical buckets always match")

	require.False(t, SizesMatch("6x9", "6.5"))
	require.False(t, SizesMatch("6.5", "6x9"))
	require.False(t, SizesMatch("6x8", "6x9"))
	require.False(t, SizesMatch("5.25", "6.5"))
	require.False(t, SizesMatch("", "6.5"))
	require.True(t, SizesMatch("6.5/6.75", "6.5"))
}

func TestSizesMatchNeedsParseableSizes(t *testing.T) {
	require.False(t, SizesMatch("Component", "Component"))
	require.False(t, SizesMatch("N/A", "n/a"))
	require.False(t, SizesMatch("Component", "6.5"))
	require.False(t, SizesMatch("6.5", "Component"))
}

func TestCanonicalSetDedupes(t *testing.T) {
	require.Equal(t, []string{`6.5"`, "6x9"}, CanonicalSet([]string{"6.5", "6 1/2", "6x9", "", "6X9"}))
}
