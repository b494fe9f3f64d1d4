// Package registry tracks connected lighting clients, the zone mappings of
// their controllers and the observers interested in changes to them.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/guidoenr/rgbvis/internal/device"
	"github.com/guidoenr/rgbvis/internal/zone"
)

var (
	ErrStaleHandle   = errors.New("client handle is stale")
	ErrNoController  = errors.New("controller does not exist")
	ErrNoZone        = errors.New("zone does not exist")
	ErrLayoutChanged = errors.New("controller layout does not match client")
)

// Handle addresses a client in the registry. A handle goes stale once its
// client is removed, even if the slot is reused.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.gen)
}

// ParseHandle reverses Handle.String.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	if _, err := fmt.Sscanf(s, "%d.%d", &h.index, &h.gen); err != nil {
		return Handle{}, fmt.Errorf("handle %q: %w", s, ErrStaleHandle)
	}
	if h.String() != s {
		return Handle{}, fmt.Errorf("handle %q: %w", s, ErrStaleHandle)
	}
	return h, nil
}

// ControllerSettings is a controller borrowed from the device layer together
// with the zone indices used to sample the output image for it.
type ControllerSettings struct {
	Controller device.Controller
	Enabled    bool
	Zones      []zone.Index
}

func (c ControllerSettings) clone() ControllerSettings {
	out := c
	out.Zones = make([]zone.Index, len(c.Zones))
	for i, z := range c.Zones {
		out.Zones[i] = cloneIndex(z)
	}
	return out
}

func cloneIndex(z zone.Index) zone.Index {
	return zone.Index{
		Width:  z.Width,
		Height: z.Height,
		X:      append([]int(nil), z.X...),
		Y:      append([]int(nil), z.Y...),
	}
}

// ClientSettings is one connected lighting client.
type ClientSettings struct {
	ID          Handle
	Address     string
	Client      device.Client
	Controllers []ControllerSettings
}

func (c ClientSettings) clone() ClientSettings {
	out := c
	out.Controllers = make([]ControllerSettings, len(c.Controllers))
	for i, ctrl := range c.Controllers {
		out.Controllers[i] = ctrl.clone()
	}
	return out
}

type slot struct {
	gen    uint32
	used   bool
	client ClientSettings
}

// Registry is an arena of clients. Reads return copies; the device handles
// inside them stay owned by the registry until RemoveClient.
type Registry struct {
	imgW, imgH int

	mu    sync.RWMutex
	slots []slot
	free  []uint32

	version atomic.Uint64

	obsMu     sync.Mutex
	observers []observer
}

// New creates an empty registry whose zone indices are validated against an
// imgW by imgH output image.
func New(imgW, imgH int) *Registry {
	return &Registry{imgW: imgW, imgH: imgH}
}

// AddClient registers c with the default zone layout for each controller.
// All controllers start enabled.
func (r *Registry) AddClient(c device.Client) (Handle, error) {
	cs := ClientSettings{Address: c.Address(), Client: c}
	for _, ctrl := range c.Controllers() {
		settings := ControllerSettings{Controller: ctrl, Enabled: true}
		for i, zi := range ctrl.Zones() {
			idx := zone.ForGeometry(zi.Type, zi.Width, zi.Height, r.imgW, r.imgH)
			if err := idx.Validate(r.imgW, r.imgH); err != nil {
				return Handle{}, fmt.Errorf("%s %s zone %d: %w", c.Address(), ctrl.Name(), i, err)
			}
			settings.Zones = append(settings.Zones, idx)
		}
		cs.Controllers = append(cs.Controllers, settings)
	}

	r.mu.Lock()
	var h Handle
	if n := len(r.free); n > 0 {
		h.index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		h.index = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}
	s := &r.slots[h.index]
	s.gen++
	s.used = true
	h.gen = s.gen
	cs.ID = h
	s.client = cs
	r.mu.Unlock()

	r.notify(Event{Kind: ClientAdded, Client: h})
	return h, nil
}

// lookup returns the live slot for h. The caller holds r.mu.
func (r *Registry) lookup(h Handle) (*slot, error) {
	if int(h.index) >= len(r.slots) {
		return nil, fmt.Errorf("client %s: %w", h, ErrStaleHandle)
	}
	s := &r.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil, fmt.Errorf("client %s: %w", h, ErrStaleHandle)
	}
	return s, nil
}

// RemoveClient drops h from the registry and hands its device client back to
// the caller, who is responsible for closing it.
func (r *Registry) RemoveClient(h Handle) (device.Client, error) {
	r.mu.Lock()
	s, err := r.lookup(h)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	c := s.client.Client
	s.used = false
	s.client = ClientSettings{}
	r.free = append(r.free, h.index)
	r.mu.Unlock()

	r.notify(Event{Kind: ClientRemoved, Client: h})
	return c, nil
}

// Client returns a copy of the settings of h.
func (r *Registry) Client(h Handle) (ClientSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.lookup(h)
	if err != nil {
		return ClientSettings{}, err
	}
	return s.client.clone(), nil
}

// Clients returns a copy of every registered client in slot order.
func (r *Registry) Clients() []ClientSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientSettings, 0, len(r.slots)-len(r.free))
	for i := range r.slots {
		if r.slots[i].used {
			out = append(out, r.slots[i].client.clone())
		}
	}
	return out
}

// EnabledControllers returns a copy of every enabled controller across all
// clients.
func (r *Registry) EnabledControllers() []ControllerSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ControllerSettings
	for i := range r.slots {
		if !r.slots[i].used {
			continue
		}
		for _, ctrl := range r.slots[i].client.Controllers {
			if ctrl.Enabled {
				out = append(out, ctrl.clone())
			}
		}
	}
	return out
}

// SetControllerEnabled turns pushes to one controller on or off.
func (r *Registry) SetControllerEnabled(h Handle, controller int, enabled bool) error {
	r.mu.Lock()
	s, err := r.lookup(h)
	if err == nil && (controller < 0 || controller >= len(s.client.Controllers)) {
		err = fmt.Errorf("client %s controller %d: %w", h, controller, ErrNoController)
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	s.client.Controllers[controller].Enabled = enabled
	r.mu.Unlock()

	r.notify(Event{Kind: ClientChanged, Client: h})
	return nil
}

// SetZoneIndex replaces the mapping of one zone. The index must cover exactly
// the zone's LEDs and stay inside the output image.
func (r *Registry) SetZoneIndex(h Handle, controller, z int, idx zone.Index) error {
	r.mu.Lock()
	s, err := r.lookup(h)
	if err == nil {
		err = r.checkZone(s.client, controller, z, idx)
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	s.client.Controllers[controller].Zones[z] = cloneIndex(idx)
	r.mu.Unlock()

	r.notify(Event{Kind: ClientChanged, Client: h})
	return nil
}

func (r *Registry) checkZone(cs ClientSettings, controller, z int, idx zone.Index) error {
	if controller < 0 || controller >= len(cs.Controllers) {
		return fmt.Errorf("client %s controller %d: %w", cs.ID, controller, ErrNoController)
	}
	ctrl := cs.Controllers[controller]
	infos := ctrl.Controller.Zones()
	if z < 0 || z >= len(ctrl.Zones) || z >= len(infos) {
		return fmt.Errorf("client %s controller %d zone %d: %w", cs.ID, controller, z, ErrNoZone)
	}
	if idx.Len() != infos[z].Len() {
		return fmt.Errorf("zone %s has %d leds, index covers %d: %w", infos[z].Name, infos[z].Len(), idx.Len(), zone.ErrCountMismatch)
	}
	if err := idx.Validate(r.imgW, r.imgH); err != nil {
		return fmt.Errorf("zone %s: %w", infos[z].Name, err)
	}
	return nil
}

// UpdateClientSettings replaces the enabled flags and zone indices of h with
// those in cs. Every zone is validated before anything is committed.
func (r *Registry) UpdateClientSettings(h Handle, cs ClientSettings) error {
	r.mu.Lock()
	s, err := r.lookup(h)
	if err == nil && len(cs.Controllers) != len(s.client.Controllers) {
		err = fmt.Errorf("client %s has %d controllers, got %d: %w", h, len(s.client.Controllers), len(cs.Controllers), ErrLayoutChanged)
	}
	if err == nil {
		for ci, ctrl := range cs.Controllers {
			if len(ctrl.Zones) != len(s.client.Controllers[ci].Zones) {
				err = fmt.Errorf("client %s controller %d: %w", h, ci, ErrLayoutChanged)
				break
			}
			for zi, idx := range ctrl.Zones {
				if err = r.checkZone(s.client, ci, zi, idx); err != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	for ci, ctrl := range cs.Controllers {
		next := ctrl.clone()
		s.client.Controllers[ci].Enabled = next.Enabled
		s.client.Controllers[ci].Zones = next.Zones
	}
	r.mu.Unlock()

	r.notify(Event{Kind: ClientChanged, Client: h})
	return nil
}

// Version counts notifications sent so far. UIs poll it to notice changes.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Close removes every client and closes its device connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	var clients []device.Client
	for i := range r.slots {
		if r.slots[i].used {
			clients = append(clients, r.slots[i].client.Client)
			r.slots[i].used = false
			r.slots[i].client = ClientSettings{}
			r.free = append(r.free, uint32(i))
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Address(), err))
		}
	}
	if len(clients) > 0 {
		r.ClientInfoChanged()
	}
	return errors.Join(errs...)
}
