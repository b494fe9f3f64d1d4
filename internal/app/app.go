// Package app runs the visualizer: it ties audio capture, analysis,
// rendering, the LED push and settings sync together under one lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guidoenr/rgbvis/internal/analyzer"
	"github.com/guidoenr/rgbvis/internal/audio"
	"github.com/guidoenr/rgbvis/internal/device"
	applog "github.com/guidoenr/rgbvis/internal/log"
	"github.com/guidoenr/rgbvis/internal/netsync"
	"github.com/guidoenr/rgbvis/internal/registry"
	"github.com/guidoenr/rgbvis/internal/render"
	"github.com/guidoenr/rgbvis/internal/settings"
	"github.com/guidoenr/rgbvis/internal/zone"
)

// Lifecycle is the run state of an App.
type Lifecycle int32

const (
	Stopped Lifecycle = iota
	Running
	Stopping
)

func (l Lifecycle) String() string {
	switch l {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

var (
	ErrRunning    = errors.New("app is already running")
	ErrNotRunning = errors.New("app is not running")
)

const (
	defaultRenderFPS   = 60
	defaultLEDFPS      = 30
	defaultPushTimeout = 100 * time.Millisecond
	// shutdownTimeout bounds how long Shutdown waits for the tasks.
	shutdownTimeout = 5 * time.Second
	// connectPoll is how often a connected client checks its link.
	connectPoll = 250 * time.Millisecond
	// pushDrainGrace is added to PushTimeout when the push task waits for
	// in-flight pushes on exit.
	pushDrainGrace = 250 * time.Millisecond
)

// Config configures the application runtime.
type Config struct {
	Audio       audio.Config
	RenderFPS   float64
	LEDFPS      float64
	PushTimeout time.Duration
	Settings    settings.Settings
	Endpoints   []device.Endpoint

	NetMode      netsync.Mode
	NetAddress   string
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// ProfilePath receives per-cycle render timings as CSV when set.
	ProfilePath string

	// Source replaces the source Audio would open.
	Source audio.Source
	// Clients are attached in addition to the dialed Endpoints.
	Clients []device.Client
}

// App ties together audio capture, analysis, rendering, LED output and sync.
type App struct {
	cfg      Config
	store    *settings.Store
	registry *registry.Registry
	sync     *netsync.Sync
	analyzer *analyzer.Analyzer
	renderer *render.Renderer
	profiler *profiler

	srcMu  sync.Mutex
	source audio.Source
	// sourceChanged asks the render task to drop analyzer history.
	sourceChanged atomic.Bool

	state atomic.Int32
	// runMu guards the run handles below and orders state changes made by
	// Start and Shutdown.
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	// pending carries the latest applied snapshot from render to peer-sync.
	pending chan settings.Settings

	specMu   sync.Mutex
	spectrum analyzer.Spectrum
	fps      float64

	busyMu sync.Mutex
	busy   map[device.Controller]*atomic.Bool

	pushed  atomic.Uint64
	skipped atomic.Uint64
}

// New builds every component and attaches the configured endpoints. Either
// everything is ready or nothing is left open.
func New(cfg Config) (*App, error) {
	if cfg.RenderFPS <= 0 {
		cfg.RenderFPS = defaultRenderFPS
	}
	if cfg.LEDFPS <= 0 {
		cfg.LEDFPS = defaultLEDFPS
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 250 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 40 * cfg.ReconnectMin
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	a := &App{
		cfg:      cfg,
		store:    settings.NewStore(cfg.Settings),
		registry: registry.New(render.Width, render.Height),
		analyzer: analyzer.New(),
		renderer: render.New(),
		pending:  make(chan settings.Settings, 1),
		busy:     make(map[device.Controller]*atomic.Bool),
	}
	a.sync = netsync.New(a.store)

	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i, ep := range cfg.Endpoints {
		client, err := device.Dial(ctx, ep)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		if _, err := a.registry.AddClient(client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("endpoint %s: %w", ep.Address, err)
		}
	}
	for _, client := range cfg.Clients {
		if _, err := a.registry.AddClient(client); err != nil {
			return nil, fmt.Errorf("client %s: %w", client.Address(), err)
		}
	}

	switch cfg.NetMode {
	case netsync.Server:
		if err := a.sync.InitServer(cfg.NetAddress); err != nil {
			return nil, fmt.Errorf("sync server: %w", err)
		}
		applog.Infof("netsync: serving settings on %s", a.sync.Address())
	case netsync.Client:
		if err := a.sync.InitClient(cfg.NetAddress); err != nil {
			return nil, fmt.Errorf("sync client: %w", err)
		}
		applog.Infof("netsync: following %s", a.sync.Address())
	}

	if cfg.ProfilePath != "" {
		p, err := newProfiler(cfg.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		a.profiler = p
	}

	if cfg.Source != nil {
		a.source = cfg.Source
	} else {
		src, err := audio.Open(cfg.Audio)
		if err != nil {
			return nil, fmt.Errorf("audio: %w", err)
		}
		a.source = src
	}
	applog.Infof("audio: using %s", a.source.Name())

	ok = true
	return a, nil
}

// Start launches the render, LED push, peer-connect and peer-sync tasks.
// They run until ctx is cancelled, Shutdown is called, or one fails.
func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	a.runErr = nil

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.renderLoop(gctx) })
	g.Go(func() error { return a.pushLoop(gctx) })
	g.Go(func() error { return a.connectLoop(gctx) })
	g.Go(func() error { return a.syncLoop(gctx) })

	go func() {
		err := g.Wait()
		cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		a.runMu.Lock()
		a.runErr = err
		a.state.Store(int32(Stopped))
		a.runMu.Unlock()
		close(done)
	}()

	applog.Infof("app: started (render %.0f fps, leds %.0f fps)", a.cfg.RenderFPS, a.cfg.LEDFPS)
	return nil
}

// Done is closed once every task has returned after a Start. It is nil
// before the first Start.
func (a *App) Done() <-chan struct{} {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.done
}

// Wait blocks until the tasks return and reports the first task error.
func (a *App) Wait() error {
	a.runMu.Lock()
	done := a.done
	a.runMu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	<-done
	return a.result()
}

func (a *App) result() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.runErr
}

// Shutdown cancels the tasks and waits for all of them to return.
func (a *App) Shutdown() error {
	a.runMu.Lock()
	if !a.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		stopping := a.State() == Stopping
		a.runMu.Unlock()
		if stopping {
			return a.Wait()
		}
		return ErrNotRunning
	}
	cancel, done := a.cancel, a.done
	a.runMu.Unlock()

	cancel()
	select {
	case <-done:
		applog.Infof("app: stopped")
		return a.result()
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("app: tasks did not stop within %s", shutdownTimeout)
	}
}

// State reports the lifecycle state.
func (a *App) State() Lifecycle {
	return Lifecycle(a.state.Load())
}

// Close releases the audio source, the lighting clients and the sync layer.
// The app must not be running.
func (a *App) Close() error {
	var errs []error
	a.srcMu.Lock()
	if a.source != nil {
		errs = append(errs, a.source.Close())
		a.source = nil
	}
	a.srcMu.Unlock()
	errs = append(errs, a.registry.Close(), a.sync.Close(), a.profiler.Close())
	return errors.Join(errs...)
}

// ChangeAudioDevice switches the audio source while running. The name has
// the same meaning as audio.Config.DeviceName; the special names "silent"
// and "synthetic" select those sources.
func (a *App) ChangeAudioDevice(name string) error {
	cfg := a.cfg.Audio
	cfg.File = ""
	cfg.Silent = false
	cfg.Synthetic = false
	cfg.DeviceName = name
	switch name {
	case "silent", "none":
		cfg.Silent = true
		cfg.DeviceName = ""
	case "synthetic":
		cfg.Synthetic = true
		cfg.DeviceName = ""
	}
	src, err := audio.Open(cfg)
	if err != nil {
		return fmt.Errorf("audio device %q: %w", name, err)
	}

	a.srcMu.Lock()
	old := a.source
	a.source = src
	a.srcMu.Unlock()

	a.sourceChanged.Store(true)
	applog.Infof("audio: switched to %s", src.Name())
	if old != nil {
		return old.Close()
	}
	return nil
}

// AudioName returns the name of the current audio source.
func (a *App) AudioName() string {
	a.srcMu.Lock()
	defer a.srcMu.Unlock()
	if a.source == nil {
		return ""
	}
	return a.source.Name()
}

func (a *App) Store() *settings.Store       { return a.store }
func (a *App) Registry() *registry.Registry { return a.registry }
func (a *App) Sync() *netsync.Sync          { return a.sync }
func (a *App) Renderer() *render.Renderer   { return a.renderer }

// Spectrum returns the spectrum drawn by the last render cycle.
func (a *App) Spectrum() analyzer.Spectrum {
	a.specMu.Lock()
	defer a.specMu.Unlock()
	return a.spectrum
}

// FPS returns the measured render rate.
func (a *App) FPS() float64 {
	a.specMu.Lock()
	defer a.specMu.Unlock()
	return a.fps
}

// PushStats returns how many zone pushes were sent and how many controller
// pushes were skipped because the previous one was still running.
func (a *App) PushStats() (pushed, skipped uint64) {
	return a.pushed.Load(), a.skipped.Load()
}

func interval(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}

func (a *App) renderLoop(ctx context.Context) error {
	ticker := time.NewTicker(interval(a.cfg.RenderFPS))
	defer ticker.Stop()

	var frame analyzer.Frame
	audioOK := true
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		a.profiler.beginFrame()
		s, changed := a.store.TakeDirty()
		if changed {
			a.publish(s)
		}

		err := a.readFrame(ctx, frame[:])
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if audioOK {
				applog.Warnf("audio: %v, rendering silence", err)
				audioOK = false
			}
			frame = analyzer.Frame{}
		} else if !audioOK {
			applog.Infof("audio: input recovered")
			audioOK = true
		}
		a.profiler.markSection("audio")

		if a.sourceChanged.CompareAndSwap(true, false) {
			a.analyzer.Reset()
		}

		a.analyzer.Analyze(&frame, s)
		spec := a.analyzer.Lookback(s.Delay)
		a.profiler.markSection("analyze")

		a.renderer.Render(spec, s)
		a.profiler.markSection("render")
		a.profiler.endFrame()

		now := time.Now()
		dt := now.Sub(last).Seconds()
		last = now
		a.specMu.Lock()
		a.spectrum = spec
		if dt > 0 {
			a.fps = 0.9*a.fps + 0.1/dt
		}
		a.specMu.Unlock()
	}
}

func (a *App) readFrame(ctx context.Context, dst []float32) error {
	a.srcMu.Lock()
	defer a.srcMu.Unlock()
	if a.source == nil {
		return audio.ErrNoDevice
	}
	return a.source.ReadFrame(ctx, dst)
}

// publish hands the latest applied snapshot to peer-sync, replacing one it
// has not picked up yet. Only the render task sends.
func (a *App) publish(s settings.Settings) {
	select {
	case a.pending <- s:
		return
	default:
	}
	select {
	case <-a.pending:
	default:
	}
	a.pending <- s
}

type zonePush struct {
	zone   int
	colors []color.RGBA
}

func (a *App) pushLoop(ctx context.Context) error {
	ticker := time.NewTicker(interval(a.cfg.LEDFPS))
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer a.drainPushes(&wg)

	img := render.NewImage(render.Width, render.Height)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		a.renderer.Output(img)
		for _, cs := range a.registry.EnabledControllers() {
			busy := a.busyFlag(cs.Controller)
			if !busy.CompareAndSwap(false, true) {
				a.skipped.Add(1)
				continue
			}
			pushes := make([]zonePush, len(cs.Zones))
			for z, idx := range cs.Zones {
				pushes[z] = zonePush{zone: z, colors: zone.Map(img, idx, nil)}
			}
			wg.Add(1)
			go func(ctrl device.Controller) {
				defer wg.Done()
				defer busy.Store(false)
				a.pushController(ctx, ctrl, pushes)
			}(cs.Controller)
		}
	}
}

// drainPushes waits for in-flight pushes. Every push is bounded by
// PushTimeout, so one still running past that plus pushDrainGrace belongs to
// a controller that ignores its context and is left behind.
func (a *App) drainPushes(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(a.cfg.PushTimeout + pushDrainGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		applog.Warnf("push: leaving stalled controller pushes behind")
	}
}

func (a *App) pushController(ctx context.Context, ctrl device.Controller, pushes []zonePush) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.PushTimeout)
	defer cancel()
	for _, p := range pushes {
		if err := ctrl.UpdateZone(ctx, p.zone, p.colors); err != nil {
			if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				applog.Debugf("push: %s zone %d: %v", ctrl.Name(), p.zone, err)
			}
			return
		}
		a.pushed.Add(1)
	}
}

func (a *App) busyFlag(ctrl device.Controller) *atomic.Bool {
	a.busyMu.Lock()
	defer a.busyMu.Unlock()
	b, ok := a.busy[ctrl]
	if !ok {
		b = new(atomic.Bool)
		a.busy[ctrl] = b
	}
	return b
}

// connectLoop keeps a client-mode instance attached to its server, backing
// off exponentially between failed attempts.
func (a *App) connectLoop(ctx context.Context) error {
	delay := a.cfg.ReconnectMin
	for {
		wait := connectPoll
		if a.sync.Mode() == netsync.Client && !a.sync.Connected() {
			if err := a.sync.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				applog.Debugf("netsync: connect %s: %v (retry in %s)", a.sync.Address(), err, delay)
				wait = delay
				delay = min(delay*2, a.cfg.ReconnectMax)
			} else {
				applog.Infof("netsync: connected to %s", a.sync.Address())
				delay = a.cfg.ReconnectMin
			}
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// syncLoop broadcasts applied settings in server mode and follows the
// server in client mode.
func (a *App) syncLoop(ctx context.Context) error {
	for {
		if a.sync.Mode() == netsync.Client && a.sync.Connected() {
			err := a.sync.Receive(ctx)
			if ctx.Err() != nil {
				return nil
			}
			applog.Warnf("netsync: lost %s: %v", a.sync.Address(), err)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case s := <-a.pending:
			if a.sync.Mode() == netsync.Server {
				if err := a.sync.SendSettings(ctx, s); err != nil {
					applog.Debugf("netsync: broadcast: %v", err)
				}
			}
		case <-time.After(connectPoll):
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
