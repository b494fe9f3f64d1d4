package device

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"strings"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection used for Adalight strips.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// parityLetters maps the accepted parity spellings to their one-letter form.
var parityLetters = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

var parityModes = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

// Normalize fills unset fields with 115200 8N1 and rejects framing the
// port cannot use. Parity comes back as N, E or O.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = 115200
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	switch {
	case o.DataBits < 5 || o.DataBits > 8:
		return o, fmt.Errorf("serial: %d data bits out of range 5-8", o.DataBits)
	case o.StopBits != 1 && o.StopBits != 2:
		return o, fmt.Errorf("serial: %d stop bits, want 1 or 2", o.StopBits)
	}
	letter, ok := parityLetters[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return o, fmt.Errorf("serial: unknown parity %q", o.Parity)
	}
	o.Parity = letter
	return o, nil
}

// SerialMode returns the normalized options as a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parityModes[n.Parity],
		StopBits: stop,
	}, nil
}

// Port is the part of a serial port the Adalight writer needs.
type Port interface {
	io.Writer
	io.Closer
}

// OpenPort opens serial ports. Tests replace it.
var OpenPort = func(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// adalight writes frames to a serial port. At most one write is in flight;
// writing holds the token in slot until port.Write returns, so a stalled
// port makes later sends wait on their own context instead of the port.
type adalight struct {
	port  Port
	slot  chan struct{}
	frame []byte
}

func openSerial(path string, opts PortOptions) (*adalight, error) {
	if path == "" {
		return nil, fmt.Errorf("serial endpoint has no device path")
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := OpenPort(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &adalight{port: port, slot: make(chan struct{}, 1)}, nil
}

// send writes the whole strip as one Adalight frame: "Ada", the LED count
// minus one as a big-endian pair, a checksum of that pair, then RGB triples.
// It returns when the write finishes or ctx is done, whichever comes first.
// An abandoned write keeps the token until the port gives it back, which
// Close forces.
func (a *adalight) send(ctx context.Context, leds []color.RGBA, _, _ int) error {
	if len(leds) == 0 {
		return nil
	}
	select {
	case a.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("serial port busy: %w", ctx.Err())
	}
	a.frame = encodeAdalight(a.frame[:0], leds)
	frame := a.frame
	errc := make(chan error, 1)
	go func() {
		_, err := a.port.Write(frame)
		<-a.slot
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("serial write: %w", ctx.Err())
	}
}

func (a *adalight) Close() error {
	return a.port.Close()
}

func encodeAdalight(dst []byte, leds []color.RGBA) []byte {
	n := len(leds) - 1
	hi := byte(n >> 8)
	lo := byte(n)
	dst = append(dst, 'A', 'd', 'a', hi, lo, hi^lo^0x55)
	for _, c := range leds {
		dst = append(dst, c.R, c.G, c.B)
	}
	return dst
}
