package analyzer

import (
	"github.com/guidoenr/rgbvis/internal/settings"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowTable holds the precomputed window coefficients. It is built once and
// never modified.
type WindowTable struct {
	rect     []float64
	hanning  []float64
	hamming  []float64
	blackman []float64
}

// NewWindowTable computes all tables for FrameSize samples.
func NewWindowTable() *WindowTable {
	return &WindowTable{
		rect:     ones(FrameSize),
		hanning:  window.Hann(ones(FrameSize)),
		hamming:  window.Hamming(ones(FrameSize)),
		blackman: window.Blackman(ones(FrameSize)),
	}
}

// Coefficients returns the table for mode. Unknown modes fall back to the
// rectangular window. Callers must not modify the result.
func (w *WindowTable) Coefficients(mode settings.WindowMode) []float64 {
	switch mode {
	case settings.WindowHanning:
		return w.hanning
	case settings.WindowHamming:
		return w.hamming
	case settings.WindowBlackman:
		return w.blackman
	default:
		return w.rect
	}
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
