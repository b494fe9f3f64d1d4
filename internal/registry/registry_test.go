package registry

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/rgbvis/internal/device"
	"github.com/guidoenr/rgbvis/internal/render"
	"github.com/guidoenr/rgbvis/internal/zone"
)

func fakeClient(addr string) *device.FakeClient {
	return &device.FakeClient{
		Addr: addr,
		Ctrls: []*device.FakeController{
			{ControllerName: "keyboard", ZoneList: []device.ZoneInfo{
				{Name: "keys", Type: zone.Matrix, Width: 4, Height: 2},
				{Name: "logo", Type: zone.Single, Width: 1, Height: 1},
			}},
			{ControllerName: "strip", ZoneList: []device.ZoneInfo{
				{Name: "desk", Type: zone.Linear, Width: 10, Height: 1},
			}},
		},
	}
}

func TestAddClientBuildsDefaultZones(t *testing.T) {
	r := New(render.Width, render.Height)
	h, err := r.AddClient(fakeClient("udp://a"))
	require.NoError(t, err)

	cs, err := r.Client(h)
	require.NoError(t, err)
	assert.Equal(t, "udp://a", cs.Address)
	require.Len(t, cs.Controllers, 2)
	assert.True(t, cs.Controllers[0].Enabled)
	require.Len(t, cs.Controllers[0].Zones, 2)
	assert.Equal(t, 8, cs.Controllers[0].Zones[0].Len())
	assert.Equal(t, 10, cs.Controllers[1].Zones[0].Len())
	for _, ctrl := range cs.Controllers {
		for _, idx := range ctrl.Zones {
			assert.NoError(t, idx.Validate(render.Width, render.Height))
		}
	}
}

func TestStaleHandleAfterRemove(t *testing.T) {
	r := New(render.Width, render.Height)
	first, err := r.AddClient(fakeClient("a"))
	require.NoError(t, err)

	c, err := r.RemoveClient(first)
	require.NoError(t, err)
	assert.Equal(t, "a", c.Address())

	second, err := r.AddClient(fakeClient("b"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = r.Client(first)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = r.RemoveClient(first)
	assert.ErrorIs(t, err, ErrStaleHandle)

	cs, err := r.Client(second)
	require.NoError(t, err)
	assert.Equal(t, "b", cs.Address)
	assert.Len(t, r.Clients(), 1)
}

func TestEnabledControllers(t *testing.T) {
	r := New(render.Width, render.Height)
	h, err := r.AddClient(fakeClient("a"))
	require.NoError(t, err)
	assert.Len(t, r.EnabledControllers(), 2)

	require.NoError(t, r.SetControllerEnabled(h, 0, false))
	enabled := r.EnabledControllers()
	require.Len(t, enabled, 1)
	assert.Equal(t, "strip", enabled[0].Controller.Name())

	assert.ErrorIs(t, r.SetControllerEnabled(h, 5, true), ErrNoController)
}

func TestSetZoneIndexValidates(t *testing.T) {
	r := New(render.Width, render.Height)
	h, err := r.AddClient(fakeClient("a"))
	require.NoError(t, err)

	custom := zone.RowMajor(4, 2)
	require.NoError(t, r.SetZoneIndex(h, 0, 0, custom))
	cs, err := r.Client(h)
	require.NoError(t, err)
	if diff := cmp.Diff(custom, cs.Controllers[0].Zones[0]); diff != "" {
		t.Errorf("zone index mismatch (-want +got):\n%s", diff)
	}

	assert.ErrorIs(t, r.SetZoneIndex(h, 0, 0, zone.RowMajor(3, 2)), zone.ErrCountMismatch)

	outside := zone.RowMajor(4, 2)
	outside.X[7] = render.Width
	assert.ErrorIs(t, r.SetZoneIndex(h, 0, 0, outside), zone.ErrOutOfRange)
	assert.ErrorIs(t, r.SetZoneIndex(h, 0, 9, custom), ErrNoZone)

	// rejected updates leave the committed index alone
	cs, err = r.Client(h)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(custom, cs.Controllers[0].Zones[0]))
}

func TestClientCopiesAreIndependent(t *testing.T) {
	r := New(render.Width, render.Height)
	h, err := r.AddClient(fakeClient("a"))
	require.NoError(t, err)

	cs, err := r.Client(h)
	require.NoError(t, err)
	cs.Controllers[0].Zones[0].X[0] = 99
	cs.Controllers[0].Enabled = false

	again, err := r.Client(h)
	require.NoError(t, err)
	assert.NotEqual(t, 99, again.Controllers[0].Zones[0].X[0])
	assert.True(t, again.Controllers[0].Enabled)
}

func TestUpdateClientSettingsIsAllOrNothing(t *testing.T) {
	r := New(render.Width, render.Height)
	h, err := r.AddClient(fakeClient("a"))
	require.NoError(t, err)

	cs, err := r.Client(h)
	require.NoError(t, err)
	cs.Controllers[0].Enabled = false
	cs.Controllers[1].Zones[0] = zone.RowMajor(11, 1)
	assert.ErrorIs(t, r.UpdateClientSettings(h, cs), zone.ErrCountMismatch)

	unchanged, err := r.Client(h)
	require.NoError(t, err)
	assert.True(t, unchanged.Controllers[0].Enabled)

	cs.Controllers[1].Zones[0] = zone.RowMajor(10, 1)
	require.NoError(t, r.UpdateClientSettings(h, cs))
	updated, err := r.Client(h)
	require.NoError(t, err)
	assert.False(t, updated.Controllers[0].Enabled)
	assert.Empty(t, cmp.Diff(zone.RowMajor(10, 1), updated.Controllers[1].Zones[0]))

	cs.Controllers = cs.Controllers[:1]
	assert.ErrorIs(t, r.UpdateClientSettings(h, cs), ErrLayoutChanged)
}

func TestObserversMayReadDuringNotification(t *testing.T) {
	r := New(render.Width, render.Height)
	var seen []EventKind
	var counts []int
	sub := r.Subscribe(func(ev Event) {
		seen = append(seen, ev.Kind)
		counts = append(counts, len(r.Clients()))
	})

	h, err := r.AddClient(fakeClient("a"))
	require.NoError(t, err)
	r.ClientInfoChanged()
	_, err = r.RemoveClient(h)
	require.NoError(t, err)

	assert.Equal(t, []EventKind{ClientAdded, InfoChanged, ClientRemoved}, seen)
	assert.Equal(t, []int{1, 1, 0}, counts)
	assert.Equal(t, uint64(3), r.Version())

	assert.True(t, r.Unsubscribe(sub))
	assert.False(t, r.Unsubscribe(sub))
	r.ClientInfoChanged()
	assert.Len(t, seen, 3)
}

func TestConcurrentNotifyAndSubscribe(t *testing.T) {
	r := New(render.Width, render.Height)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := r.Subscribe(func(Event) { _ = r.EnabledControllers() })
			r.ClientInfoChanged()
			r.Unsubscribe(sub)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8), r.Version())
}

func TestCloseClosesClients(t *testing.T) {
	r := New(render.Width, render.Height)
	a, b := fakeClient("a"), fakeClient("b")
	_, err := r.AddClient(a)
	require.NoError(t, err)
	_, err = r.AddClient(b)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Empty(t, r.Clients())
}

func TestParseHandle(t *testing.T) {
	r := New(render.Width, render.Height)
	h, err := r.AddClient(fakeClient("a"))
	require.NoError(t, err)

	got, err := ParseHandle(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	for _, bad := range []string{"", "x", "1", "1.2x", "-1.0"} {
		_, err := ParseHandle(bad)
		assert.ErrorIs(t, err, ErrStaleHandle, bad)
	}
}
