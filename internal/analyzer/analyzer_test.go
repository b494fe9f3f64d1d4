package analyzer

import (
	"math"
	"testing"

	"github.com/guidoenr/rgbvis/internal/settings"
	"gonum.org/v1/gonum/dsp/fourier"
)

var windowModes = []settings.WindowMode{
	settings.WindowRectangular,
	settings.WindowHanning,
	settings.WindowHamming,
	settings.WindowBlackman,
}

func sineFrame(bin int, amp float64) *Frame {
	var f Frame
	for i := range f {
		f[i] = float32(amp * math.Sin(2*math.Pi*float64(bin)*float64(i)/FrameSize))
	}
	return &f
}

func plainSettings() settings.Settings {
	s := settings.Defaults()
	s.AvgMode = settings.AvgOff
	s.Amplitude = 100
	return s
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func TestWindowTablesHaveFrameLength(t *testing.T) {
	w := NewWindowTable()
	for _, mode := range windowModes {
		if got := len(w.Coefficients(mode)); got != FrameSize {
			t.Fatalf("%s window length=%d want=%d", mode, got, FrameSize)
		}
	}
}

func TestPeakBinMatchesReferenceFFT(t *testing.T) {
	ref := fourier.NewFFT(transformSize)
	frame := sineFrame(20, 0.8)

	for _, mode := range windowModes {
		a := New()
		s := plainSettings()
		s.WindowMode = mode
		got := a.Analyze(frame, s)

		seq := make([]float64, transformSize)
		coeffs := a.Windows().Coefficients(mode)
		for i := 0; i < FrameSize; i++ {
			seq[i] = float64(frame[i]) * coeffs[i]
		}
		coeff := ref.Coefficients(nil, seq)
		want := make([]float64, Bins)
		for i := range want {
			want[i] = cmag(coeff[i]) * 2 / FrameSize
		}

		if g, w := argmax(got.Bins[:]), argmax(want); g != w {
			t.Fatalf("%s: peak bin=%d reference=%d", mode, g, w)
		}
		peak := argmax(want)
		if math.Abs(got.Bins[peak]-want[peak]) > 1e-6 {
			t.Fatalf("%s: peak magnitude=%f reference=%f", mode, got.Bins[peak], want[peak])
		}
	}
}

func TestRectangularSinePeakIsNearAmplitude(t *testing.T) {
	a := New()
	s := plainSettings()
	s.WindowMode = settings.WindowRectangular
	got := a.Analyze(sineFrame(16, 0.5), s)
	// a 256-sample sine at bin 16 lands on bin 32 of the 512-point transform
	if p := argmax(got.Bins[:]); p != 32 {
		t.Fatalf("peak bin=%d want=32", p)
	}
	if math.Abs(got.Bins[32]-0.5) > 1e-3 {
		t.Fatalf("peak magnitude=%f want≈0.5", got.Bins[32])
	}
}

func TestExponentialWithZeroFilterIsUnsmoothed(t *testing.T) {
	smoothed := New()
	direct := New()

	s := plainSettings()
	s.AvgMode = settings.AvgExponential
	s.FilterConstant = 0
	off := plainSettings()

	for cycle := 0; cycle < 6; cycle++ {
		frame := sineFrame(5+cycle*7, 0.3+0.1*float64(cycle))
		got := smoothed.Analyze(frame, s)
		want := direct.Analyze(frame, off)
		for i := range got.Bins {
			if math.Abs(got.Bins[i]-want.Bins[i]) > 1e-12 {
				t.Fatalf("cycle %d bin %d: got=%g want=%g", cycle, i, got.Bins[i], want.Bins[i])
			}
		}
	}
}

func TestExponentialSmoothsTowardsInput(t *testing.T) {
	a := New()
	s := plainSettings()
	s.AvgMode = settings.AvgExponential
	s.FilterConstant = 0.5

	a.Analyze(sineFrame(10, 0.9), s)
	var silence Frame
	got := a.Analyze(&silence, s)
	first := New().Analyze(sineFrame(10, 0.9), plainSettings())
	if math.Abs(got.Bins[20]-first.Bins[20]*0.5) > 1e-9 {
		t.Fatalf("bin 20=%f want half of %f", got.Bins[20], first.Bins[20])
	}
}

func TestMovingAverageConverges(t *testing.T) {
	const n = 5
	a := New()
	s := plainSettings()
	s.AvgMode = settings.AvgMovingAverage
	s.AvgSize = n

	loud := sineFrame(40, 0.9)
	for i := 0; i < n; i++ {
		a.Analyze(sineFrame(3+i, 0.2), s)
	}
	var got Spectrum
	for i := 0; i < n; i++ {
		got = a.Analyze(loud, s)
	}
	want := New().Analyze(loud, plainSettings())
	for i := range got.Bins {
		if math.Abs(got.Bins[i]-want.Bins[i]) > 1e-9 {
			t.Fatalf("bin %d: got=%g want=%g", i, got.Bins[i], want.Bins[i])
		}
	}
}

func TestSilenceNeverProducesNaN(t *testing.T) {
	a := New()
	var silence Frame
	for _, mode := range []settings.AvgMode{settings.AvgOff, settings.AvgMovingAverage, settings.AvgExponential} {
		s := settings.Defaults()
		s.AvgMode = mode
		for i := 0; i < 10; i++ {
			got := a.Analyze(&silence, s)
			if math.IsNaN(got.Amplitude) || math.IsInf(got.Amplitude, 0) {
				t.Fatalf("%s: amplitude=%v", mode, got.Amplitude)
			}
			if got.Amplitude != 0 {
				t.Fatalf("%s: amplitude=%v want 0", mode, got.Amplitude)
			}
			for b, v := range got.Bins {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("%s: bin %d=%v", mode, b, v)
				}
			}
		}
	}
}

func TestAmplitudeScaleAndRange(t *testing.T) {
	s := plainSettings()
	full := New().Analyze(sineFrame(12, 0.6), s)

	s.Amplitude = 200
	doubled := New().Analyze(sineFrame(12, 0.6), s)
	if math.Abs(doubled.Bins[24]-2*full.Bins[24]) > 1e-9 {
		t.Fatalf("amplitude 200 bin=%f want=%f", doubled.Bins[24], 2*full.Bins[24])
	}
	for _, sp := range []Spectrum{full, doubled} {
		if sp.Amplitude < 0 || sp.Amplitude > 1 {
			t.Fatalf("amplitude out of range: %f", sp.Amplitude)
		}
	}
}

func TestLookbackReturnsDelayedSpectrum(t *testing.T) {
	a := New()
	s := plainSettings()
	var frames []Spectrum
	for i := 0; i < 4; i++ {
		frames = append(frames, a.Analyze(sineFrame(10+10*i, 0.5), s))
	}
	if got := a.Lookback(0); got != frames[3] {
		t.Fatalf("lookback 0 is not the latest spectrum")
	}
	if got := a.Lookback(2); got != frames[1] {
		t.Fatalf("lookback 2 mismatch")
	}
	if got := a.Lookback(50); got != frames[0] {
		t.Fatalf("lookback past history should clamp to oldest")
	}
	a.Reset()
	if got := a.Lookback(0); got != (Spectrum{}) {
		t.Fatalf("reset should clear history")
	}
}

func TestClamp(t *testing.T) {
	if clamp(2, 0, 1) != 1 {
		t.Fatalf("expected clamp high to be 1")
	}
	if clamp(-1, 0, 1) != 0 {
		t.Fatalf("expected clamp low to be 0")
	}
	if clamp(0.5, 0, 1) != 0.5 {
		t.Fatalf("expected clamp middle to be unchanged")
	}
}
