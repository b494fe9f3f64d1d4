package render

import (
	"errors"
	"image/color"
	"math"
	"sync"

	"github.com/guidoenr/rgbvis/internal/analyzer"
	"github.com/guidoenr/rgbvis/internal/settings"
)

const (
	// SilenceLevel is the spectrum energy below which a cycle counts as silent.
	SilenceLevel = 0.01
	// stepBase is the background phase advance per cycle at anim_speed 1.
	stepBase = 0.005
)

// ErrWindowClosed is returned by a preview once the user closes it.
var ErrWindowClosed = errors.New("preview window closed")

// Renderer composites the background and foreground patterns into the
// output image. Render must be called from a single goroutine; Output is safe
// from any goroutine.
type Renderer struct {
	bg  *Image
	fg  *Image
	vs1 *Image
	vs2 *Image

	mu  sync.Mutex
	out *Image
	cur *Image

	levels   [Width]float64
	single   float64
	nrmlOfst float64
	nrmlScl  float64
	bkgdStep float64
	timer    uint32
	frames   uint64
}

// New allocates the four images. out and cur point at the two scratch
// images from here on.
func New() *Renderer {
	r := &Renderer{
		bg:      NewImage(Width, Height),
		fg:      NewImage(Width, Height),
		vs1:     NewImage(Width, Height),
		vs2:     NewImage(Width, Height),
		nrmlScl: 1,
	}
	black := color.RGBA{A: 0xff}
	for _, img := range []*Image{r.bg, r.fg, r.vs1, r.vs2} {
		img.Fill(black)
	}
	r.out = r.vs1
	r.cur = r.vs2
	return r
}

// SetNormalization sets the affine map from a bin magnitude to a bar level:
// level = offset + scale*magnitude, clamped to [0, 1].
func (r *Renderer) SetNormalization(offset, scale float64) {
	r.nrmlOfst = offset
	r.nrmlScl = scale
}

func (r *Renderer) normalize(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return clamp01(r.nrmlOfst + r.nrmlScl*v)
}

// BackgroundTimer returns the number of consecutive silent cycles, saturating.
func (r *Renderer) BackgroundTimer() uint32 {
	return r.timer
}

// Frames returns the number of completed render cycles.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Render draws one cycle from spec under s and publishes it as the output.
func (r *Renderer) Render(spec analyzer.Spectrum, s settings.Settings) {
	r.SetNormalization(s.NrmlOfst, s.NrmlScl)
	r.bkgdStep += s.AnimSpeed * stepBase
	switch {
	case math.IsNaN(r.bkgdStep) || math.IsInf(r.bkgdStep, 0):
		r.bkgdStep = 0
	case r.bkgdStep >= 1:
		r.bkgdStep -= math.Floor(r.bkgdStep)
	}

	silent := spec.Energy < SilenceLevel
	if !silent {
		r.timer = 0
	} else if r.timer < ^uint32(0) {
		r.timer++
	}

	bright := s.BkgdBright
	if s.ReactiveBkgd {
		bright = int(float64(bright)*clamp01(spec.Amplitude) + 0.5)
	}
	if s.SilentBkgd && silent && r.timer < s.BackgroundTimeout {
		bright = 0
	}
	DrawPattern(Pattern(s.BkgdMode), bright, r.bkgdStep, r.bg)
	DrawPattern(Pattern(s.FrgdMode), 100, r.bkgdStep, r.fg)

	hold := float64(s.Decay) / 100.0
	r.single = max(clamp01(spec.Amplitude), r.single*hold)

	if s.SingleColorMode {
		r.DrawSingleColorForeground(r.single, r.fg, r.cur)
	} else {
		for x := 0; x < Width; x++ {
			r.levels[x] = max(r.normalize(spec.Bins[x]), r.levels[x]*hold)
		}
		r.drawBars(s, r.cur)
	}

	r.publish()
}

// DrawSingleColorForeground fills out with one flat color taken from the
// center of fg, blended over the background by amplitude.
func (r *Renderer) DrawSingleColorForeground(amplitude float64, fg, out *Image) {
	c := fg.At(fg.Width/2, fg.Height/2)
	if amplitude >= 1 {
		out.Fill(c)
		return
	}
	for i := range out.Pix {
		out.Pix[i] = blend(c, r.bg.Pix[i], amplitude)
	}
}

// drawBars fills the bar-graph row, the single-color row and the
// spectrograph area of out. Bars grow from the anchor row; coverage of the
// partially filled pixel becomes its alpha.
func (r *Renderer) drawBars(s settings.Settings, out *Image) {
	w := out.Width
	area := float64(out.Height - SpectrographTop)

	for x := 0; x < w; x++ {
		col := x
		if s.StartFromBotInv {
			col = w - 1 - x
		}
		level := r.levels[col]
		out.Pix[BarRow*w+x] = blend(r.fg.Pix[BarRow*w+x], r.bg.Pix[BarRow*w+x], level)

		bar := level * area
		for y := SpectrographTop; y < out.Height; y++ {
			pos := float64(y - SpectrographTop)
			if s.StartFromBottom {
				pos = float64(out.Height - 1 - y)
			}
			i := y*w + x
			out.Pix[i] = blend(r.fg.Pix[i], r.bg.Pix[i], bar-pos)
		}
	}

	c := r.fg.At(w/2, out.Height/2)
	row := out.Pix[SingleColorRow*w : (SingleColorRow+1)*w]
	bgRow := r.bg.Pix[SingleColorRow*w : (SingleColorRow+1)*w]
	for x := range row {
		row[x] = blend(c, bgRow[x], r.single)
	}
}

func (r *Renderer) publish() {
	r.mu.Lock()
	r.out, r.cur = r.cur, r.out
	r.frames++
	r.mu.Unlock()
}

// Output copies the last completed image into dst.
func (r *Renderer) Output(dst *Image) {
	r.mu.Lock()
	dst.CopyFrom(r.out)
	r.mu.Unlock()
}

// Snapshot returns a copy of the last completed image.
func (r *Renderer) Snapshot() *Image {
	img := NewImage(Width, Height)
	r.Output(img)
	return img
}
