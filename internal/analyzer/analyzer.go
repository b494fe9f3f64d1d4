package analyzer

import (
	"math"

	"github.com/guidoenr/rgbvis/internal/settings"
	"github.com/mjibson/go-dsp/fft"
)

const (
	// FrameSize is the number of samples analyzed per cycle.
	FrameSize = 256
	// Bins is the number of magnitude values in a Spectrum.
	Bins = 256

	transformSize = 2 * FrameSize
	epsilon       = 1e-9
	peakRelease   = 0.995
	peakFloor     = 0.5
)

// Frame is one cycle of mono samples in [-1, 1].
type Frame [FrameSize]float32

// Spectrum is the analyzer output of one cycle. Amplitude is always derived
// from the Bins of the same cycle.
type Spectrum struct {
	Bins      [Bins]float64 `json:"bins"`
	Amplitude float64       `json:"amplitude"`
	Energy    float64       `json:"energy"`
}

// Analyzer windows, transforms and smooths frames into spectra. It is not
// safe for concurrent use; the render loop owns it.
type Analyzer struct {
	windows *WindowTable

	work []float64

	raw      [settings.MaxHistory][Bins]float64
	rawNext  int
	rawCount int

	smooth    [Bins]float64
	hasSmooth bool

	history      [settings.MaxHistory]Spectrum
	historyNext  int
	historyCount int

	peak float64
}

// New creates an Analyzer with precomputed window tables.
func New() *Analyzer {
	return &Analyzer{
		windows: NewWindowTable(),
		work:    make([]float64, transformSize),
		peak:    peakFloor,
	}
}

// Windows exposes the immutable window tables.
func (a *Analyzer) Windows() *WindowTable {
	return a.windows
}

// Analyze turns one frame into a spectrum under the given settings and
// records it in the history used by Lookback.
func (a *Analyzer) Analyze(frame *Frame, s settings.Settings) Spectrum {
	raw := a.transform(frame, s.WindowMode)
	a.pushRaw(raw)

	var smoothed [Bins]float64
	switch s.AvgMode {
	case settings.AvgMovingAverage:
		smoothed = a.movingAverage(s.AvgSize)
		a.smooth = smoothed
	case settings.AvgExponential:
		fc := clamp(s.FilterConstant, 0, 0.999)
		if !a.hasSmooth {
			a.smooth = raw
		} else {
			for i := range a.smooth {
				a.smooth[i] = fc*a.smooth[i] + (1-fc)*raw[i]
			}
		}
		smoothed = a.smooth
	default:
		smoothed = raw
		a.smooth = raw
	}
	a.hasSmooth = true

	gain := float64(s.Amplitude) / 100.0

	var out Spectrum
	total := 0.0
	for i, v := range smoothed {
		v *= gain
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out.Bins[i] = v
		total += v
	}
	out.Energy = total
	out.Amplitude = a.normalize(total)

	a.pushHistory(out)
	return out
}

// Lookback returns the spectrum produced delay cycles ago. A delay beyond the
// recorded history returns the oldest available spectrum.
func (a *Analyzer) Lookback(delay int) Spectrum {
	if a.historyCount == 0 {
		return Spectrum{}
	}
	if delay < 0 {
		delay = 0
	}
	if delay >= a.historyCount {
		delay = a.historyCount - 1
	}
	idx := (a.historyNext - 1 - delay + settings.MaxHistory) % settings.MaxHistory
	return a.history[idx]
}

// Reset drops all smoothing state and history.
func (a *Analyzer) Reset() {
	a.rawNext, a.rawCount = 0, 0
	a.historyNext, a.historyCount = 0, 0
	a.hasSmooth = false
	a.peak = peakFloor
}

func (a *Analyzer) transform(frame *Frame, mode settings.WindowMode) [Bins]float64 {
	coeffs := a.windows.Coefficients(mode)
	for i := 0; i < FrameSize; i++ {
		a.work[i] = float64(frame[i]) * coeffs[i]
	}
	for i := FrameSize; i < transformSize; i++ {
		a.work[i] = 0
	}

	res := fft.FFTReal(a.work)

	var mags [Bins]float64
	const scale = 2.0 / FrameSize
	for i := 0; i < Bins; i++ {
		mags[i] = cmag(res[i]) * scale
	}
	return mags
}

func (a *Analyzer) movingAverage(size int) [Bins]float64 {
	if size < 1 {
		size = 1
	}
	n := min(size, a.rawCount)
	var out [Bins]float64
	for k := 0; k < n; k++ {
		idx := (a.rawNext - 1 - k + settings.MaxHistory) % settings.MaxHistory
		for i, v := range a.raw[idx] {
			out[i] += v
		}
	}
	inv := 1.0 / float64(n)
	for i := range out {
		out[i] *= inv
	}
	return out
}

// normalize maps total energy onto [0, 1] against a slowly released peak.
func (a *Analyzer) normalize(total float64) float64 {
	if total > a.peak {
		a.peak = total
	} else {
		a.peak = math.Max(peakFloor, a.peak*peakRelease)
	}
	return clamp(total/math.Max(a.peak, epsilon), 0, 1)
}

func (a *Analyzer) pushRaw(raw [Bins]float64) {
	a.raw[a.rawNext] = raw
	a.rawNext = (a.rawNext + 1) % settings.MaxHistory
	if a.rawCount < settings.MaxHistory {
		a.rawCount++
	}
}

func (a *Analyzer) pushHistory(s Spectrum) {
	a.history[a.historyNext] = s
	a.historyNext = (a.historyNext + 1) % settings.MaxHistory
	if a.historyCount < settings.MaxHistory {
		a.historyCount++
	}
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
