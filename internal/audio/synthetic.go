package audio

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// SyntheticRate is the nominal sample rate of the generated signal.
const SyntheticRate = 44100

// Synthetic generates three slowly pulsing tones plus a little noise, for
// running without an input device.
type Synthetic struct {
	rng       *rand.Rand
	phaseBass float64
	phaseMid  float64
	phaseHigh float64
	envelope  float64
}

// NewSynthetic returns a generator. A zero seed uses the clock.
func NewSynthetic(seed int64) *Synthetic {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Synthetic{rng: rand.New(rand.NewSource(seed))}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Close() error { return nil }

func (s *Synthetic) ReadFrame(ctx context.Context, dst []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	const (
		bassHz = 60.0
		midHz  = 440.0
		highHz = 3000.0
	)
	step := 2 * math.Pi / SyntheticRate
	for i := range dst {
		s.phaseBass += bassHz * step
		s.phaseMid += midHz * step
		s.phaseHigh += highHz * step
		s.envelope += 1.0 / SyntheticRate

		bass := 0.5 * (0.5 + 0.5*math.Sin(s.envelope*0.7))
		mid := 0.3 * (0.5 + 0.5*math.Sin(s.envelope*1.2+0.5))
		high := 0.15 * (0.5 + 0.5*math.Sin(s.envelope*2.1+1.0))
		v := bass*math.Sin(s.phaseBass) + mid*math.Sin(s.phaseMid) + high*math.Sin(s.phaseHigh)
		v += (s.rng.Float64() - 0.5) * 0.02
		dst[i] = float32(clamp(v, -1, 1))
	}
	s.phaseBass = math.Mod(s.phaseBass, 2*math.Pi)
	s.phaseMid = math.Mod(s.phaseMid, 2*math.Pi)
	s.phaseHigh = math.Mod(s.phaseHigh, 2*math.Pi)
	return nil
}

// Silent produces zeros. It stands in when no device is available.
type Silent struct{}

func NewSilent() Silent { return Silent{} }

func (Silent) Name() string { return "silent" }

func (Silent) Close() error { return nil }

func (Silent) ReadFrame(ctx context.Context, dst []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clear(dst)
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
