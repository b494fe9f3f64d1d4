package settings

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MaxHistory bounds avg_size and delay, and with them the analyzer history.
const MaxHistory = 64

// AvgMode selects the temporal smoothing applied to the spectrum.
type AvgMode int

const (
	AvgOff AvgMode = iota
	AvgMovingAverage
	AvgExponential
)

var avgModeNames = []string{"off", "moving-average", "exponential"}

func (m AvgMode) String() string {
	if m < 0 || int(m) >= len(avgModeNames) {
		return fmt.Sprintf("AvgMode(%d)", int(m))
	}
	return avgModeNames[m]
}

func (m AvgMode) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(avgModeNames) {
		return nil, fmt.Errorf("invalid avg mode %d", int(m))
	}
	return []byte(avgModeNames[m]), nil
}

func (m *AvgMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "off", "none", "":
		*m = AvgOff
	case "moving-average", "moving_average", "average", "binning":
		*m = AvgMovingAverage
	case "exponential", "lowpass", "low-pass":
		*m = AvgExponential
	default:
		return fmt.Errorf("unknown avg mode %q", string(text))
	}
	return nil
}

// WindowMode selects the window applied to a frame before the transform.
type WindowMode int

const (
	WindowRectangular WindowMode = iota
	WindowHanning
	WindowHamming
	WindowBlackman
)

var windowModeNames = []string{"rect", "hanning", "hamming", "blackman"}

func (w WindowMode) String() string {
	if w < 0 || int(w) >= len(windowModeNames) {
		return fmt.Sprintf("WindowMode(%d)", int(w))
	}
	return windowModeNames[w]
}

func (w WindowMode) MarshalText() ([]byte, error) {
	if w < 0 || int(w) >= len(windowModeNames) {
		return nil, fmt.Errorf("invalid window mode %d", int(w))
	}
	return []byte(windowModeNames[w]), nil
}

func (w *WindowMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "rect", "rectangular", "none", "":
		*w = WindowRectangular
	case "hanning", "hann":
		*w = WindowHanning
	case "hamming":
		*w = WindowHamming
	case "blackman":
		*w = WindowBlackman
	default:
		return fmt.Errorf("unknown window mode %q", string(text))
	}
	return nil
}

// Settings holds every tunable of a running visualizer. Pattern modes are
// indexes into the renderer's pattern table.
type Settings struct {
	Amplitude         int        `yaml:"amplitude" json:"amplitude"`
	AvgMode           AvgMode    `yaml:"avg_mode" json:"avg_mode"`
	AvgSize           int        `yaml:"avg_size" json:"avg_size"`
	WindowMode        WindowMode `yaml:"window_mode" json:"window_mode"`
	Decay             int        `yaml:"decay" json:"decay"`
	Delay             int        `yaml:"delay" json:"delay"`
	AnimSpeed         float64    `yaml:"anim_speed" json:"anim_speed"`
	BkgdBright        int        `yaml:"bkgd_bright" json:"bkgd_bright"`
	BkgdMode          int        `yaml:"bkgd_mode" json:"bkgd_mode"`
	SingleColorMode   bool       `yaml:"single_color_mode" json:"single_color_mode"`
	NrmlOfst          float64    `yaml:"nrml_ofst" json:"nrml_ofst"`
	NrmlScl           float64    `yaml:"nrml_scl" json:"nrml_scl"`
	FilterConstant    float64    `yaml:"filter_constant" json:"filter_constant"`
	FrgdMode          int        `yaml:"frgd_mode" json:"frgd_mode"`
	ReactiveBkgd      bool       `yaml:"reactive_bkgd" json:"reactive_bkgd"`
	SilentBkgd        bool       `yaml:"silent_bkgd" json:"silent_bkgd"`
	StartFromBottom   bool       `yaml:"start_from_bottom" json:"start_from_bottom"`
	StartFromBotInv   bool       `yaml:"start_from_bot_inv" json:"start_from_bot_inv"`
	BackgroundTimeout uint32     `yaml:"background_timeout" json:"background_timeout"`
}

// Defaults returns the settings a fresh instance starts with.
func Defaults() Settings {
	return Settings{
		Amplitude:         100,
		AvgMode:           AvgMovingAverage,
		AvgSize:           8,
		WindowMode:        WindowHanning,
		Decay:             80,
		Delay:             0,
		AnimSpeed:         1.0,
		BkgdBright:        10,
		BkgdMode:          15,
		NrmlOfst:          0.04,
		NrmlScl:           0.5,
		FilterConstant:    0.5,
		FrgdMode:          9,
		BackgroundTimeout: 120,
	}
}

var (
	ErrOutOfRange = errors.New("setting out of range")
)

// Validate rejects values the analyzer or renderer cannot honor.
func (s Settings) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"anim_speed", s.AnimSpeed},
		{"nrml_ofst", s.NrmlOfst},
		{"nrml_scl", s.NrmlScl},
		{"filter_constant", s.FilterConstant},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s %g: %w", f.name, f.v, ErrOutOfRange)
		}
	}
	switch {
	case s.Amplitude < 0 || s.Amplitude > 10000:
		return fmt.Errorf("amplitude %d: %w", s.Amplitude, ErrOutOfRange)
	case s.AvgMode < AvgOff || s.AvgMode > AvgExponential:
		return fmt.Errorf("avg_mode %d: %w", int(s.AvgMode), ErrOutOfRange)
	case s.AvgSize < 1 || s.AvgSize > MaxHistory:
		return fmt.Errorf("avg_size %d: %w", s.AvgSize, ErrOutOfRange)
	case s.WindowMode < WindowRectangular || s.WindowMode > WindowBlackman:
		return fmt.Errorf("window_mode %d: %w", int(s.WindowMode), ErrOutOfRange)
	case s.Decay < 0 || s.Decay > 100:
		return fmt.Errorf("decay %d: %w", s.Decay, ErrOutOfRange)
	case s.Delay < 0 || s.Delay >= MaxHistory:
		return fmt.Errorf("delay %d: %w", s.Delay, ErrOutOfRange)
	case s.AnimSpeed < 0:
		return fmt.Errorf("anim_speed %g: %w", s.AnimSpeed, ErrOutOfRange)
	case s.BkgdBright < 0 || s.BkgdBright > 100:
		return fmt.Errorf("bkgd_bright %d: %w", s.BkgdBright, ErrOutOfRange)
	case s.BkgdMode < 0:
		return fmt.Errorf("bkgd_mode %d: %w", s.BkgdMode, ErrOutOfRange)
	case s.FrgdMode < 0:
		return fmt.Errorf("frgd_mode %d: %w", s.FrgdMode, ErrOutOfRange)
	case s.FilterConstant < 0 || s.FilterConstant > 1:
		return fmt.Errorf("filter_constant %g: %w", s.FilterConstant, ErrOutOfRange)
	}
	return nil
}
