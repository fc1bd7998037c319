package color

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"varianthunter/pkg/domain"
)

func TestIsDarkExtremes(t *testing.T) {
	cases := map[string]bool{
		"#000000": true,
		"#FFFFFF": false,
		"#ffffff": false,
		"#333333": true,
		"#808080": false,
		"000000":  true,
	}
	for hex, want := range cases {
		got, err := IsDark(hex)
		if err != nil {
			t.Fatalf("%s: %v", hex, err)
		}
		if got != want {
			t.Fatalf("%s: expected isDark=%v", hex, want)
		}
	}
}

func TestLuminanceThresholdBoundary(t *testing.T) {
	// #757575 sits just below and #767676 just above the threshold.
	l1, _ := Luminance("#757575")
	l2, _ := Luminance("#767676")
	if !(l1 <= DarkThreshold && l2 > DarkThreshold) {
		t.Fatalf("unexpected luminance pair %f %f", l1, l2)
	}
}

func TestIsDarkInvalid(t *testing.T) {
	for _, hex := range []string{"", "#fff", "#gggggg", "#1234567"} {
		if _, err := IsDark(hex); !errors.Is(err, ErrInvalidHex) {
			t.Fatalf("%q: expected ErrInvalidHex, got %v", hex, err)
		}
	}
}

func TestGeneratorPadsAndClassifies(t *testing.T) {
	g := NewGenerator(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		c := g.Random()
		if len(c.Color) != 7 || !strings.HasPrefix(c.Color, "#") {
			t.Fatalf("expected #rrggbb, got %q", c.Color)
		}
		dark, err := IsDark(c.Color)
		if err != nil {
			t.Fatalf("generated invalid color %q: %v", c.Color, err)
		}
		if dark != c.IsDark {
			t.Fatalf("%s: isDark mismatch", c.Color)
		}
	}
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	a := NewGenerator(rand.NewPCG(9, 9)).Random()
	b := NewGenerator(rand.NewPCG(9, 9)).Random()
	if a != b {
		t.Fatalf("expected identical colors for identical seeds: %v %v", a, b)
	}
	if NewGenerator(nil).Random().Color == "" {
		t.Fatalf("expected color from default source")
	}
}

func TestLocationColor(t *testing.T) {
	if LocationColor(domain.GranularityRegion) != "#7CB17B" ||
		LocationColor(domain.GranularityCountry) != "#ff6e3e" ||
		LocationColor(domain.GranularityContinent) != "#90177d" {
		t.Fatalf("unexpected location colors")
	}
	if len(Palette) != 32 {
		t.Fatalf("expected 32 palette entries, got %d", len(Palette))
	}
}
