package device

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"net/url"
	"strings"
	"sync"

	"github.com/guidoenr/rgbvis/internal/zone"
)

// ZoneInfo describes the physical geometry of one controller zone.
type ZoneInfo struct {
	Name   string    `json:"name"`
	Type   zone.Type `json:"type"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

// Len is the number of LEDs in the zone.
func (z ZoneInfo) Len() int {
	return z.Width * z.Height
}

// Controller drives the zones of one lighting device.
type Controller interface {
	Name() string
	Zones() []ZoneInfo
	// UpdateZone pushes colors, in LED order, to the given zone.
	UpdateZone(ctx context.Context, zone int, colors []color.RGBA) error
}

// Client is a connection to one lighting endpoint and the controllers it
// exposes.
type Client interface {
	Address() string
	Controllers() []Controller
	Close() error
}

var ErrBadZone = errors.New("zone does not exist")

// ZoneSpec is the configured geometry of a zone.
type ZoneSpec struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// ControllerSpec is the configured layout of a controller.
type ControllerSpec struct {
	Name  string     `yaml:"name"`
	Zones []ZoneSpec `yaml:"zones"`
}

// Endpoint describes a lighting endpoint. Address is a URL:
// serial:///dev/ttyUSB0 for an Adalight strip or udp://host:port for a
// DNRGB receiver.
type Endpoint struct {
	Address     string           `yaml:"address"`
	Serial      PortOptions      `yaml:"serial"`
	Controllers []ControllerSpec `yaml:"controllers"`
}

// zoneInfos converts the configured zone specs of a controller.
func (c ControllerSpec) zoneInfos() ([]ZoneInfo, error) {
	zones := make([]ZoneInfo, 0, len(c.Zones))
	for i, z := range c.Zones {
		kind, err := zone.ParseType(z.Type)
		if err != nil {
			return nil, fmt.Errorf("controller %q zone %d: %w", c.Name, i, err)
		}
		w, h := z.Width, z.Height
		if h == 0 {
			h = 1
		}
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("controller %q zone %d: invalid size %dx%d", c.Name, i, w, h)
		}
		name := z.Name
		if name == "" {
			name = fmt.Sprintf("zone%d", i)
		}
		zones = append(zones, ZoneInfo{Name: name, Type: kind, Width: w, Height: h})
	}
	return zones, nil
}

// Dial connects to ep and returns a client exposing its controllers.
func Dial(ctx context.Context, ep Endpoint) (Client, error) {
	u, err := url.Parse(ep.Address)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", ep.Address, err)
	}
	if len(ep.Controllers) == 0 {
		return nil, fmt.Errorf("endpoint %q: no controllers configured", ep.Address)
	}

	var t transport
	switch strings.ToLower(u.Scheme) {
	case "serial":
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path
		}
		t, err = openSerial(path, ep.Serial)
	case "udp":
		t, err = openUDP(ctx, u.Host)
	default:
		return nil, fmt.Errorf("endpoint %q: unsupported scheme %q", ep.Address, u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", ep.Address, err)
	}

	c, err := newStripClient(ep.Address, ep.Controllers, t)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return c, nil
}

// transport moves strip contents to the hardware. send is called with the
// whole strip and the range that changed, and must return once ctx is done.
type transport interface {
	send(ctx context.Context, leds []color.RGBA, start, count int) error
	Close() error
}

// strip is the LED buffer shared by all controllers of an endpoint.
type strip struct {
	mu   sync.Mutex
	leds []color.RGBA
	out  transport
}

type stripClient struct {
	address     string
	strip       *strip
	controllers []Controller
	closeOnce   sync.Once
	closeErr    error
}

func newStripClient(address string, specs []ControllerSpec, t transport) (*stripClient, error) {
	s := &strip{out: t}
	c := &stripClient{address: address, strip: s}
	base := 0
	for i, spec := range specs {
		zones, err := spec.zoneInfos()
		if err != nil {
			return nil, err
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("controller%d", i)
		}
		ctrl := &stripController{name: name, zones: zones, strip: s}
		for _, z := range zones {
			ctrl.offsets = append(ctrl.offsets, base)
			base += z.Len()
		}
		c.controllers = append(c.controllers, ctrl)
	}
	s.leds = make([]color.RGBA, base)
	return c, nil
}

func (c *stripClient) Address() string { return c.address }

func (c *stripClient) Controllers() []Controller {
	out := make([]Controller, len(c.controllers))
	copy(out, c.controllers)
	return out
}

func (c *stripClient) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.strip.out.Close()
	})
	return c.closeErr
}

type stripController struct {
	name    string
	zones   []ZoneInfo
	offsets []int
	strip   *strip
}

func (c *stripController) Name() string { return c.name }

func (c *stripController) Zones() []ZoneInfo {
	out := make([]ZoneInfo, len(c.zones))
	copy(out, c.zones)
	return out
}

func (c *stripController) UpdateZone(ctx context.Context, z int, colors []color.RGBA) error {
	if z < 0 || z >= len(c.zones) {
		return fmt.Errorf("%s zone %d: %w", c.name, z, ErrBadZone)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n := min(len(colors), c.zones[z].Len())
	start := c.offsets[z]

	c.strip.mu.Lock()
	defer c.strip.mu.Unlock()
	copy(c.strip.leds[start:start+n], colors[:n])
	return c.strip.out.send(ctx, c.strip.leds, start, n)
}
