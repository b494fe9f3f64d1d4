package render

import (
	"fmt"
	"image/color"
	"math"
	"strings"
)

// Pattern identifies an entry of the pattern table. Settings store patterns
// by index.
type Pattern int

const (
	PatternSolidBlack Pattern = iota
	PatternSolidWhite
	PatternSolidRed
	PatternSolidOrange
	PatternSolidYellow
	PatternSolidGreen
	PatternSolidCyan
	PatternSolidBlue
	PatternSolidPurple
	PatternGreenYellowRed
	PatternGreenWhiteRed
	PatternBlueCyanWhite
	PatternRedWhiteBlue
	PatternRainbowBars
	PatternRainbowBarsInverse
	PatternRainbowHorizontal
	PatternRainbowVertical
	PatternSpectrumCycle
	PatternSinusoidalCycle
	PatternColorWheel
)

// patternFunc returns an RGB triple in [0, 1] for one pixel of a w by h
// image at animation phase step.
type patternFunc func(x, y, w, h int, step float64) (float64, float64, float64)

type patternEntry struct {
	name string
	fn   patternFunc
}

var patternRegistry = []patternEntry{
	PatternSolidBlack:         {"solid-black", solid(0, 0, 0)},
	PatternSolidWhite:         {"solid-white", solid(1, 1, 1)},
	PatternSolidRed:           {"solid-red", solid(1, 0, 0)},
	PatternSolidOrange:        {"solid-orange", solid(1, 0.5, 0)},
	PatternSolidYellow:        {"solid-yellow", solid(1, 1, 0)},
	PatternSolidGreen:         {"solid-green", solid(0, 1, 0)},
	PatternSolidCyan:          {"solid-cyan", solid(0, 1, 1)},
	PatternSolidBlue:          {"solid-blue", solid(0, 0, 1)},
	PatternSolidPurple:        {"solid-purple", solid(0.6, 0, 1)},
	PatternGreenYellowRed:     {"green-yellow-red", gradient([3]float64{0, 1, 0}, [3]float64{1, 1, 0}, [3]float64{1, 0, 0})},
	PatternGreenWhiteRed:      {"green-white-red", gradient([3]float64{0, 1, 0}, [3]float64{1, 1, 1}, [3]float64{1, 0, 0})},
	PatternBlueCyanWhite:      {"blue-cyan-white", gradient([3]float64{0, 0, 1}, [3]float64{0, 1, 1}, [3]float64{1, 1, 1})},
	PatternRedWhiteBlue:       {"red-white-blue", gradient([3]float64{1, 0, 0}, [3]float64{1, 1, 1}, [3]float64{0, 0, 1})},
	PatternRainbowBars:        {"rainbow-bars", patternRainbowBars},
	PatternRainbowBarsInverse: {"rainbow-bars-inverse", patternRainbowBarsInverse},
	PatternRainbowHorizontal:  {"rainbow-horizontal", patternRainbowHorizontal},
	PatternRainbowVertical:    {"rainbow-vertical", patternRainbowVertical},
	PatternSpectrumCycle:      {"spectrum-cycle", patternSpectrumCycle},
	PatternSinusoidalCycle:    {"sinusoidal-cycle", patternSinusoidalCycle},
	PatternColorWheel:         {"color-wheel", patternColorWheel},
}

// PatternCount is the number of entries in the pattern table.
var PatternCount = len(patternRegistry)

func (p Pattern) String() string {
	if p < 0 || int(p) >= len(patternRegistry) {
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
	return patternRegistry[p].name
}

// Valid reports whether p indexes the pattern table.
func (p Pattern) Valid() bool {
	return p >= 0 && int(p) < len(patternRegistry)
}

// PatternNames returns the pattern names in index order.
func PatternNames() []string {
	names := make([]string, len(patternRegistry))
	for i, e := range patternRegistry {
		names[i] = e.name
	}
	return names
}

// ParsePattern resolves a pattern name, case-insensitively.
func ParsePattern(name string) (Pattern, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, e := range patternRegistry {
		if e.name == key {
			return Pattern(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pattern %q", name)
}

// DrawPattern fills img with pattern at brightness bright (0..100) for the
// animation phase step. Unknown patterns draw black.
func DrawPattern(pattern Pattern, bright int, step float64, img *Image) {
	if !pattern.Valid() || bright <= 0 {
		img.Fill(color.RGBA{A: 0xff})
		return
	}
	fn := patternRegistry[pattern].fn
	k := clamp01(float64(bright) / 100.0)
	w, h := img.Width, img.Height
	for y := 0; y < h; y++ {
		row := img.Pix[y*w : (y+1)*w]
		for x := range row {
			r, g, b := fn(x, y, w, h, step)
			row[x] = rgb(r*k, g*k, b*k)
		}
	}
}

func solid(r, g, b float64) patternFunc {
	return func(_, _, _, _ int, _ float64) (float64, float64, float64) {
		return r, g, b
	}
}

// axisPosition places a pixel along the pattern axis: across the width for
// the bar and single-color rows, down the spectrograph otherwise.
func axisPosition(x, y, w, h int) float64 {
	if y < SpectrographTop || h <= SpectrographTop+1 {
		if w <= 1 {
			return 0
		}
		return float64(x) / float64(w-1)
	}
	return float64(y-SpectrographTop) / float64(h-SpectrographTop-1)
}

func gradient(lo, mid, hi [3]float64) patternFunc {
	return func(x, y, w, h int, _ float64) (float64, float64, float64) {
		t := axisPosition(x, y, w, h)
		from, to := lo, mid
		if t >= 0.5 {
			from, to = mid, hi
			t = (t - 0.5) * 2
		} else {
			t *= 2
		}
		return lerp(from[0], to[0], t), lerp(from[1], to[1], t), lerp(from[2], to[2], t)
	}
}

func patternRainbowBars(x, _, w, _ int, _ float64) (float64, float64, float64) {
	return hsvToRGB(float64(x)/float64(w), 1, 1)
}

func patternRainbowBarsInverse(x, _, w, _ int, _ float64) (float64, float64, float64) {
	return hsvToRGB(float64(w-1-x)/float64(w), 1, 1)
}

func patternRainbowHorizontal(x, _, w, _ int, step float64) (float64, float64, float64) {
	return hsvToRGB(float64(x)/float64(w)+step, 1, 1)
}

func patternRainbowVertical(_, y, _, h int, step float64) (float64, float64, float64) {
	return hsvToRGB(float64(y)/float64(h)+step, 1, 1)
}

func patternSpectrumCycle(_, _, _, _ int, step float64) (float64, float64, float64) {
	return hsvToRGB(step, 1, 1)
}

func patternSinusoidalCycle(_, _, _, _ int, step float64) (float64, float64, float64) {
	phase := 2 * math.Pi * step
	r := 0.5 + 0.5*math.Sin(phase)
	g := 0.5 + 0.5*math.Sin(phase+2*math.Pi/3)
	b := 0.5 + 0.5*math.Sin(phase+4*math.Pi/3)
	return r, g, b
}

func patternColorWheel(x, y, w, h int, step float64) (float64, float64, float64) {
	cx := float64(w) / 2
	cy := float64(h) / 2
	angle := math.Atan2(float64(y)-cy, float64(x)-cx)
	return hsvToRGB(angle/(2*math.Pi)+step, 1, 1)
}

func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}
