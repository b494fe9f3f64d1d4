package device

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"
)

// FakeController records zone updates in memory. Delay makes UpdateZone
// block, up to ctx cancellation, to simulate a stalled device. Hang, when
// set, blocks UpdateZone until it is closed regardless of ctx.
type FakeController struct {
	ControllerName string
	ZoneList       []ZoneInfo
	Delay          time.Duration
	Hang           chan struct{}

	mu      sync.Mutex
	updates int
	last    map[int][]color.RGBA
}

func (f *FakeController) Name() string { return f.ControllerName }

func (f *FakeController) Zones() []ZoneInfo {
	out := make([]ZoneInfo, len(f.ZoneList))
	copy(out, f.ZoneList)
	return out
}

func (f *FakeController) UpdateZone(ctx context.Context, z int, colors []color.RGBA) error {
	if z < 0 || z >= len(f.ZoneList) {
		return fmt.Errorf("%s zone %d: %w", f.ControllerName, z, ErrBadZone)
	}
	if f.Hang != nil {
		<-f.Hang
	}
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		f.last = make(map[int][]color.RGBA)
	}
	f.last[z] = append([]color.RGBA(nil), colors...)
	f.updates++
	return nil
}

// Updates returns the number of completed zone updates.
func (f *FakeController) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

// Last returns a copy of the last colors pushed to zone z.
func (f *FakeController) Last(z int) []color.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]color.RGBA(nil), f.last[z]...)
}

// FakeClient is an in-memory Client.
type FakeClient struct {
	Addr  string
	Ctrls []*FakeController

	mu     sync.Mutex
	closed bool
}

func (f *FakeClient) Address() string { return f.Addr }

func (f *FakeClient) Controllers() []Controller {
	out := make([]Controller, len(f.Ctrls))
	for i, c := range f.Ctrls {
		out[i] = c
	}
	return out
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var (
	_ Controller = (*FakeController)(nil)
	_ Client     = (*FakeClient)(nil)
)
