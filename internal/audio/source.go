package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	applog "github.com/guidoenr/rgbvis/internal/log"
)

// Source delivers mono samples in [-1, 1]. ReadFrame fills dst completely
// or returns an error; it may block until enough samples are available.
type Source interface {
	ReadFrame(ctx context.Context, dst []float32) error
	Name() string
	Close() error
}

var (
	ErrNoDevice = errors.New("no audio input device")
	ErrStalled  = errors.New("audio source stalled")
)

// Config selects and configures a Source.
type Config struct {
	// DeviceName is matched case-insensitively against input device names.
	// Empty picks the best available input.
	DeviceName string
	// File plays a wav, mp3 or ogg file instead of capturing.
	File string
	// Synthetic generates a test signal.
	Synthetic bool
	// Silent disables audio entirely.
	Silent bool
	// BufferSize is the capture ring size in samples.
	BufferSize int
	Channels   int
	// Loop restarts File at its end.
	Loop bool
}

// Open builds the Source cfg asks for. A capture device that cannot be found
// degrades to a silent source so the visualizer still runs.
func Open(cfg Config) (Source, error) {
	switch {
	case cfg.Silent:
		return NewSilent(), nil
	case cfg.File != "":
		f, err := OpenFile(cfg.File, cfg.Loop)
		if err != nil {
			return nil, err
		}
		return f, nil
	case cfg.Synthetic:
		return NewSynthetic(0), nil
	}

	if err := Initialize(); err != nil {
		applog.Warnf("audio: portaudio unavailable, running silent: %v", err)
		return NewSilent(), nil
	}
	c, err := NewCapture(cfg)
	if err != nil {
		Terminate()
		if errors.Is(err, ErrNoDevice) {
			applog.Warnf("audio: %v, running silent", err)
			return NewSilent(), nil
		}
		return nil, err
	}
	c.terminate = true
	applog.Infof("audio: capturing from %q at %.0f Hz", c.Name(), c.SampleRate())
	return c, nil
}

// Describe returns a short label for a Source config, used in logs and the
// status API.
func Describe(cfg Config) string {
	switch {
	case cfg.Silent:
		return "silent"
	case cfg.File != "":
		return "file:" + cfg.File
	case cfg.Synthetic:
		return "synthetic"
	case strings.TrimSpace(cfg.DeviceName) != "":
		return fmt.Sprintf("device:%s", cfg.DeviceName)
	default:
		return "device:auto"
	}
}
