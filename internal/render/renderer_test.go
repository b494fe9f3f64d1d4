package render

import (
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/guidoenr/rgbvis/internal/analyzer"
	"github.com/guidoenr/rgbvis/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	black = color.RGBA{A: 0xff}
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

func barSettings() settings.Settings {
	s := settings.Defaults()
	s.FrgdMode = int(PatternSolidWhite)
	s.BkgdMode = int(PatternSolidBlack)
	s.BkgdBright = 0
	s.Decay = 0
	s.NrmlOfst = 0
	s.NrmlScl = 1
	return s
}

func TestRolePointersAreScratchImages(t *testing.T) {
	r := New()
	require.NotNil(t, r.out)
	require.NotNil(t, r.cur)
	assert.NotSame(t, r.out, r.cur)
	for _, p := range []*Image{r.out, r.cur} {
		assert.True(t, p == r.vs1 || p == r.vs2)
	}

	before := r.out
	r.Render(analyzer.Spectrum{}, barSettings())
	assert.NotSame(t, before, r.out)
	assert.Same(t, before, r.cur)
	assert.Equal(t, uint64(1), r.Frames())
}

func TestSingleColorConstantAmplitudeIsUniform(t *testing.T) {
	r := New()
	s := settings.Defaults()
	s.Decay = 0
	s.Delay = 0
	s.SingleColorMode = true

	spec := analyzer.Spectrum{Amplitude: 1.0, Energy: 1.0}
	var first color.RGBA
	for cycle := 0; cycle < 10; cycle++ {
		r.Render(spec, s)
		img := r.Snapshot()
		require.True(t, img.Uniform(), "cycle %d not uniform", cycle)
		c := img.Pix[0]
		require.NotEqual(t, black, c, "cycle %d is black", cycle)
		if cycle == 0 {
			first = c
		}
		require.Equal(t, first, c, "cycle %d drifted", cycle)
	}
}

func TestSilentBackgroundReturnsAfterTimeout(t *testing.T) {
	r := New()
	s := barSettings()
	s.BkgdMode = int(PatternSolidWhite)
	s.BkgdBright = 100
	s.FrgdMode = int(PatternSolidRed)
	s.SilentBkgd = true
	s.BackgroundTimeout = 5

	var silence analyzer.Spectrum
	for cycle := 1; cycle < 5; cycle++ {
		r.Render(silence, s)
		assert.Equal(t, black, r.Snapshot().At(100, 40), "cycle %d should hide background", cycle)
	}
	r.Render(silence, s)
	assert.Equal(t, uint32(5), r.BackgroundTimer())
	assert.Equal(t, white, r.Snapshot().At(100, 40))

	loud := analyzer.Spectrum{Energy: 1, Amplitude: 0.5}
	r.Render(loud, s)
	assert.Equal(t, uint32(0), r.BackgroundTimer())
	assert.Equal(t, white, r.Snapshot().At(100, 40))

	r.Render(silence, s)
	assert.Equal(t, black, r.Snapshot().At(100, 40))
}

func TestBackgroundVisibleWithoutSilentFlag(t *testing.T) {
	r := New()
	s := barSettings()
	s.BkgdMode = int(PatternSolidWhite)
	s.BkgdBright = 100
	r.Render(analyzer.Spectrum{}, s)
	assert.Equal(t, white, r.Snapshot().At(5, 50))
}

func TestBackgroundPhaseRecoversFromNonFinite(t *testing.T) {
	r := New()
	r.bkgdStep = math.NaN()
	s := barSettings()
	s.AnimSpeed = 1
	r.Render(analyzer.Spectrum{}, s)
	assert.False(t, math.IsNaN(r.bkgdStep))
	assert.GreaterOrEqual(t, r.bkgdStep, 0.0)
	assert.Less(t, r.bkgdStep, 1.0)

	before := r.bkgdStep
	r.Render(analyzer.Spectrum{}, s)
	assert.NotEqual(t, before, r.bkgdStep)
}

func TestDecayHoldsLevels(t *testing.T) {
	r := New()
	s := barSettings()
	s.Decay = 50

	var loud analyzer.Spectrum
	loud.Bins[10] = 0.8
	loud.Energy = 0.8
	r.Render(loud, s)
	assert.InDelta(t, 0.8, r.levels[10], 1e-9)

	r.Render(analyzer.Spectrum{}, s)
	assert.InDelta(t, 0.4, r.levels[10], 1e-9)

	s.Decay = 0
	r.Render(analyzer.Spectrum{}, s)
	assert.Equal(t, 0.0, r.levels[10])
}

func TestOrientationFlags(t *testing.T) {
	var spec analyzer.Spectrum
	spec.Bins[0] = 0.5
	spec.Energy = 0.5

	r := New()
	s := barSettings()
	r.Render(spec, s)
	img := r.Snapshot()
	assert.Equal(t, white, img.At(0, SpectrographTop))
	assert.Equal(t, black, img.At(0, Height-1))
	assert.Equal(t, black, img.At(Width-1, SpectrographTop))

	r = New()
	s.StartFromBottom = true
	r.Render(spec, s)
	img = r.Snapshot()
	assert.Equal(t, white, img.At(0, Height-1))
	assert.Equal(t, black, img.At(0, SpectrographTop))

	r = New()
	s.StartFromBotInv = true
	r.Render(spec, s)
	img = r.Snapshot()
	assert.Equal(t, white, img.At(Width-1, Height-1))
	assert.Equal(t, black, img.At(0, Height-1))
}

func TestBarRowFollowsLevel(t *testing.T) {
	var spec analyzer.Spectrum
	spec.Bins[3] = 1
	spec.Energy = 1
	r := New()
	r.Render(spec, barSettings())
	img := r.Snapshot()
	assert.Equal(t, white, img.At(3, BarRow))
	assert.Equal(t, black, img.At(4, BarRow))
}

func TestNormalization(t *testing.T) {
	r := New()
	r.SetNormalization(0.1, 2)
	assert.Equal(t, 0.0, r.normalize(0))
	assert.InDelta(t, 0.5, r.normalize(0.2), 1e-9)
	assert.Equal(t, 1.0, r.normalize(5))
}

func TestDrawPattern(t *testing.T) {
	img := NewImage(8, 8)
	DrawPattern(PatternSolidRed, 50, 0, img)
	assert.True(t, img.Uniform())
	assert.Equal(t, color.RGBA{R: 128, A: 0xff}, img.Pix[0])

	DrawPattern(Pattern(999), 100, 0, img)
	assert.Equal(t, black, img.Pix[0])

	DrawPattern(PatternRainbowHorizontal, 100, 0, img)
	assert.False(t, img.Uniform())
}

func TestPatternNamesRoundTrip(t *testing.T) {
	names := PatternNames()
	require.Len(t, names, PatternCount)
	for i, name := range names {
		p, err := ParsePattern(strings.ToUpper(name))
		require.NoError(t, err)
		assert.Equal(t, Pattern(i), p)
		assert.Equal(t, name, p.String())
	}
	_, err := ParsePattern("plasma")
	assert.Error(t, err)
}

func TestTerminalPreviewFrame(t *testing.T) {
	img := NewImage(Width, Height)
	img.Fill(white)
	p := NewTerminalPreview(40, 10)
	lines := p.Frame(img)
	require.Len(t, lines, 10)
	assert.Equal(t, 40, strings.Count(lines[0], "█"))
	assert.True(t, strings.HasSuffix(lines[0], resetANSI))

	status := p.Status(analyzer.Spectrum{Amplitude: 0.5}, settings.Defaults(), 30)
	assert.Contains(t, status, "fg=green-yellow-red")
	assert.Contains(t, status, "fps 30.0")
}
