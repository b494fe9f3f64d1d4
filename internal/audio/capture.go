package audio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Capture wraps a PortAudio input stream and hands out the newest samples a
// frame at a time.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo
	// terminate releases PortAudio on Close.
	terminate bool

	mu     sync.Mutex
	buffer []float32
	index  int
	fresh  int
	mono   []float32
	ready  chan struct{}
}

const (
	defaultBufferSize = 4096
	// stallTimeout bounds how long ReadFrame waits for the device.
	stallTimeout = 500 * time.Millisecond
)

// NewCapture opens and starts a PortAudio stream for the configured device.
// Initialize must have been called.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	if cfg.Channels > device.MaxInputChannels {
		cfg.Channels = device.MaxInputChannels
	}

	inParams := portaudio.StreamDeviceParameters{
		Device:   device,
		Channels: cfg.Channels,
		Latency:  device.DefaultLowInputLatency,
	}

	sampleRate := device.DefaultSampleRate

	capture := &Capture{
		sampleRate: sampleRate,
		buffer:     make([]float32, cfg.BufferSize),
		channels:   cfg.Channels,
		device:     device,
		ready:      make(chan struct{}, 1),
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input:           inParams,
		Output:          portaudio.StreamDeviceParameters{},
		SampleRate:      sampleRate,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}, capture.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	capture.stream = stream

	if err := capture.stream.Start(); err != nil {
		_ = capture.stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	return capture, nil
}

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if c.terminate {
		defer Terminate()
	}
	if err := c.stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		return err
	}
	err := c.stream.Close()
	c.stream = nil
	return err
}

func (c *Capture) Name() string {
	if c.device == nil {
		return "portaudio"
	}
	return c.device.Name
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// ReadFrame waits until len(dst) samples arrived since the previous call and
// copies the newest len(dst) samples into dst. It gives up with ErrStalled
// when the device delivers nothing for a while.
func (c *Capture) ReadFrame(ctx context.Context, dst []float32) error {
	if len(dst) > len(c.buffer) {
		return fmt.Errorf("frame of %d samples exceeds capture buffer of %d", len(dst), len(c.buffer))
	}
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if c.fresh >= len(dst) {
			c.latest(dst)
			c.fresh = 0
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ready:
		case <-timer.C:
			return fmt.Errorf("%s: %w", c.Name(), ErrStalled)
		}
	}
}

// latest copies the newest len(dst) samples in chronological order. The
// caller holds c.mu.
func (c *Capture) latest(dst []float32) {
	n := len(dst)
	start := c.index - n
	if start >= 0 {
		copy(dst, c.buffer[start:c.index])
		return
	}
	start += len(c.buffer)
	k := copy(dst, c.buffer[start:])
	copy(dst[k:], c.buffer[:c.index])
}

func (c *Capture) process(in []float32) {
	c.mu.Lock()
	if c.channels > 1 {
		frames := len(in) / c.channels
		if cap(c.mono) < frames {
			c.mono = make([]float32, frames)
		}
		c.mono = c.mono[:frames]
		for i := range c.mono {
			sum := float32(0)
			base := i * c.channels
			for ch := 0; ch < c.channels; ch++ {
				sum += in[base+ch]
			}
			c.mono[i] = sum / float32(c.channels)
		}
		c.mixIntoBuffer(c.mono)
	} else {
		c.mixIntoBuffer(in)
	}
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Capture) mixIntoBuffer(in []float32) {
	if len(in) == 0 {
		return
	}
	c.fresh = min(c.fresh+len(in), len(c.buffer))

	if len(in) >= len(c.buffer) {
		copy(c.buffer, in[len(in)-len(c.buffer):])
		c.index = 0
		return
	}

	if c.index+len(in) <= len(c.buffer) {
		copy(c.buffer[c.index:], in)
		c.index += len(in)
		if c.index == len(c.buffer) {
			c.index = 0
		}
		return
	}

	remaining := len(c.buffer) - c.index
	copy(c.buffer[c.index:], in[:remaining])
	copy(c.buffer, in[remaining:])
	c.index = len(in) - remaining
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	if host, err := portaudio.DefaultHostApi(); err == nil {
		if host != nil && host.DefaultInputDevice != nil && host.DefaultInputDevice.MaxInputChannels > 0 {
			return host.DefaultInputDevice, nil
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	candidate := pickBestDevice(devices)
	if candidate != nil {
		return candidate, nil
	}

	return nil, ErrNoDevice
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	lower := strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), lower) {
			return device, nil
		}
	}

	return nil, fmt.Errorf("audio device %q: %w", name, ErrNoDevice)
}

// loopbackKeywords mark devices that capture what the machine is playing.
var loopbackKeywords = []string{"monitor", "loopback", "stereo mix", "what u hear", "mix"}

type scoredDevice struct {
	name      string
	index     int
	channels  int
	isDefault bool
	isHostDef bool
}

// scoreDevice prefers default inputs and loopback devices.
func scoreDevice(d scoredDevice) int {
	score := d.channels
	if d.isDefault {
		score += 50
	}
	if d.isHostDef {
		score += 40
	}
	lower := strings.ToLower(d.name)
	for _, kw := range loopbackKeywords {
		if strings.Contains(lower, kw) {
			score += 20
			break
		}
	}
	if strings.Contains(lower, "default") {
		score += 10
	}
	return score
}

// rankDevices orders candidates best first, ties by name.
func rankDevices(devs []scoredDevice) []scoredDevice {
	out := make([]scoredDevice, 0, len(devs))
	for _, d := range devs {
		if d.channels > 0 {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scoreDevice(out[i]), scoreDevice(out[j])
		if si == sj {
			return strings.ToLower(out[i].name) < strings.ToLower(out[j].name)
		}
		return si > sj
	})
	return out
}

func pickBestDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	defaultInputIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultInputIndex = def.Index
	}
	defaultHostIndex := -1
	if host, err := portaudio.DefaultHostApi(); err == nil && host != nil && host.DefaultInputDevice != nil {
		defaultHostIndex = host.DefaultInputDevice.Index
	}

	byIndex := make(map[int]*portaudio.DeviceInfo, len(devices))
	candidates := make([]scoredDevice, 0, len(devices))
	for _, d := range devices {
		if d == nil {
			continue
		}
		byIndex[d.Index] = d
		candidates = append(candidates, scoredDevice{
			name:      d.Name,
			index:     d.Index,
			channels:  d.MaxInputChannels,
			isDefault: d.Index == defaultInputIndex,
			isHostDef: d.Index == defaultHostIndex,
		})
	}
	ranked := rankDevices(candidates)
	if len(ranked) == 0 {
		return nil
	}
	return byIndex[ranked[0].index]
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}
