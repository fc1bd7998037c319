// Package color generates tag display colors and classifies their brightness.
package color

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"varianthunter/pkg/domain"
)

// DarkThreshold is the relative luminance at or below which a color is dark.
const DarkThreshold = 0.179

// ErrInvalidHex is returned for color codes that are not #RRGGBB.
var ErrInvalidHex = errors.New("color: invalid hex code")

// Palette is the fixed series palette used by charts.
var Palette = []string{
	"#bbef39", "#29b7d5", "#f3df67", "#6685f1",
	"#2fd901", "#ff3f00", "#003aff", "#ff6200",
	"#ef8f4b", "#d46ff5", "#4fcbe7", "#ffb600",
	"#ff1cb6", "#9a02ff", "#00fff7", "#333333",
	"#ef5378", "#fcb0ca", "#7ed7cd", "#ef479e",
	"#ffbc73", "#fffac8", "#c56100", "#95e0ab",
	"#808000", "#ffd8b1", "#601e1e", "#72ee84",
	"#058011", "#6b6868", "#b2b2b2", "#000000",
}

// LocationColor returns the badge color for a granularity.
func LocationColor(g domain.Granularity) string {
	switch g {
	case domain.GranularityRegion:
		return "#7CB17B"
	case domain.GranularityCountry:
		return "#ff6e3e"
	default:
		return "#90177d"
	}
}

// Luminance computes the relative luminance of a #RRGGBB color.
func Luminance(hex string) (float64, error) {
	code := strings.TrimPrefix(hex, "#")
	if len(code) != 6 {
		return 0, fmt.Errorf("%w %q", ErrInvalidHex, hex)
	}
	v, err := strconv.ParseUint(code, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidHex, hex)
	}
	r := channel(uint8(v >> 16))
	g := channel(uint8(v >> 8))
	b := channel(uint8(v))
	return 0.2126*r + 0.7152*g + 0.0722*b, nil
}

func channel(c uint8) float64 {
	f := float64(c) / 255
	if f <= 0.03928 {
		return f / 12.92
	}
	return math.Pow((f+0.055)/1.055, 2.4)
}

// IsDark reports whether hex has luminance at or below DarkThreshold.
func IsDark(hex string) (bool, error) {
	l, err := Luminance(hex)
	if err != nil {
		return false, err
	}
	return l <= DarkThreshold, nil
}

// Generator produces random display colors from an injectable source.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator drawing from src. A nil src uses a
// randomly seeded PCG source.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{rng: rand.New(src)}
}

// Random returns a zero-padded #rrggbb color and its brightness class.
func (g *Generator) Random() domain.Color {
	g.mu.Lock()
	v := g.rng.IntN(0x1000000)
	g.mu.Unlock()
	code := fmt.Sprintf("#%06x", v)
	dark, _ := IsDark(code)
	return domain.Color{Color: code, IsDark: dark}
}
