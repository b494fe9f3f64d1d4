// Package web serves the HTTP control surface: settings, clients, audio
// source and a WebSocket status stream.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guidoenr/rgbvis/internal/analyzer"
	"github.com/guidoenr/rgbvis/internal/audio"
	"github.com/guidoenr/rgbvis/internal/config"
	"github.com/guidoenr/rgbvis/internal/device"
	applog "github.com/guidoenr/rgbvis/internal/log"
	"github.com/guidoenr/rgbvis/internal/netsync"
	"github.com/guidoenr/rgbvis/internal/registry"
	"github.com/guidoenr/rgbvis/internal/render"
	"github.com/guidoenr/rgbvis/internal/settings"
)

//go:embed index.html
var indexHTML []byte

const (
	statusInterval = 500 * time.Millisecond
	pingInterval   = 54 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxBodyBytes   = 64 << 10
)

// AppInterface is what the server needs from the running visualizer.
type AppInterface interface {
	Store() *settings.Store
	Registry() *registry.Registry
	Sync() *netsync.Sync
	Spectrum() analyzer.Spectrum
	FPS() float64
	AudioName() string
	ChangeAudioDevice(name string) error
	PushStats() (pushed, skipped uint64)
}

type Server struct {
	mu         sync.RWMutex
	app        AppInterface
	configPath string
	clients    map[*websocketClient]bool
	broadcast  chan []byte
	upgrader   websocket.Upgrader

	// listDevices is swapped out in tests.
	listDevices func() ([]audio.Device, error)
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// StatusResponse is the periodic status pushed to UIs. SettingsApplied and
// RegistryVersion grow whenever settings or clients change, so a UI can
// refetch only then.
type StatusResponse struct {
	FPS             float64 `json:"fps"`
	Amplitude       float64 `json:"amplitude"`
	Energy          float64 `json:"energy"`
	Audio           string  `json:"audio"`
	SettingsState   string  `json:"settings_state"`
	SettingsApplied uint64  `json:"settings_applied"`
	RegistryVersion uint64  `json:"registry_version"`
	NetMode         string  `json:"net_mode"`
	NetAddress      string  `json:"net_address,omitempty"`
	Peers           int     `json:"peers"`
	NetConnected    bool    `json:"net_connected"`
	Pushed          uint64  `json:"pushed"`
	Skipped         uint64  `json:"skipped"`
}

type ClientStatus struct {
	ID          string             `json:"id"`
	Address     string             `json:"address"`
	Controllers []ControllerStatus `json:"controllers"`
}

type ControllerStatus struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Zones   []device.ZoneInfo `json:"zones"`
}

type EnableRequest struct {
	Client     string `json:"client"`
	Controller int    `json:"controller"`
	Enabled    bool   `json:"enabled"`
}

type AudioRequest struct {
	Device string `json:"device"`
}

type NetRequest struct {
	Mode    string `json:"mode"`
	Address string `json:"address"`
}

// NewServer creates a server for app. configPath is where POST /api/save
// writes the settings; empty disables saving.
func NewServer(app AppInterface, configPath string) *Server {
	return &Server{
		app:        app,
		configPath: configPath,
		clients:    make(map[*websocketClient]bool),
		broadcast:  make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		listDevices: listInputDevices,
	}
}

func listInputDevices() ([]audio.Device, error) {
	if err := audio.Initialize(); err != nil {
		return nil, err
	}
	defer audio.Terminate()
	devices, err := audio.ListDevices()
	if err != nil {
		return nil, err
	}
	return audio.Inputs(devices), nil
}

// Handler returns the routes without starting the status loops.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(indexHTML)
	})
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/spectrum", s.handleSpectrum)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("POST /api/save", s.handleSave)
	mux.HandleFunc("GET /api/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/clients", s.handleClients)
	mux.HandleFunc("POST /api/clients/enable", s.handleEnable)
	mux.HandleFunc("GET /api/audio/devices", s.handleAudioDevices)
	mux.HandleFunc("POST /api/audio", s.handleAudio)
	mux.HandleFunc("POST /api/net", s.handleNet)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	applog.Infof("web: serving on http://%s", ln.Addr())

	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) status() StatusResponse {
	spec := s.app.Spectrum()
	store := s.app.Store()
	ns := s.app.Sync()
	pushed, skipped := s.app.PushStats()
	return StatusResponse{
		FPS:             s.app.FPS(),
		Amplitude:       spec.Amplitude,
		Energy:          spec.Energy,
		Audio:           s.app.AudioName(),
		SettingsState:   store.State().String(),
		SettingsApplied: store.Applied(),
		RegistryVersion: s.app.Registry().Version(),
		NetMode:         ns.Mode().String(),
		NetAddress:      ns.Address(),
		Peers:           ns.Peers(),
		NetConnected:    ns.Connected(),
		Pushed:          pushed,
		Skipped:         skipped,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Debugf("web: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Spectrum())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Store().Get())
}

// handleUpdateSettings merges the fields present in the body into the
// current settings. Fields left out keep their values.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	store := s.app.Store()
	probe := store.Get()
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = store.Update(func(cur *settings.Settings) {
		_ = json.Unmarshal(body, cur)
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, store.Get())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.configPath == "" {
		writeError(w, http.StatusConflict, errors.New("no config file to save to"))
		return
	}
	if err := config.SaveSettings(s.configPath, s.app.Store().Get()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to save config: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": s.configPath})
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, render.PatternNames())
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := s.app.Registry().Clients()
	out := make([]ClientStatus, 0, len(clients))
	for _, cs := range clients {
		status := ClientStatus{ID: cs.ID.String(), Address: cs.Address}
		for _, ctrl := range cs.Controllers {
			status.Controllers = append(status.Controllers, ControllerStatus{
				Name:    ctrl.Controller.Name(),
				Enabled: ctrl.Enabled,
				Zones:   ctrl.Controller.Zones(),
			})
		}
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req EnableRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h, err := registry.ParseHandle(req.Client)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := s.app.Registry().SetControllerEnabled(h, req.Controller, req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAudioDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.listDevices()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current": s.app.AudioName(), "devices": devices})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	var req AudioRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.app.ChangeAudioDevice(req.Device); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"audio": s.app.AudioName()})
}

// handleNet switches the sync mode at runtime. A failed switch keeps the
// current mode.
func (s *Server) handleNet(w http.ResponseWriter, r *http.Request) {
	var req NetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := netsync.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ns := s.app.Sync()
	switch mode {
	case netsync.Server:
		err = ns.InitServer(req.Address)
	case netsync.Client:
		err = ns.InitClient(req.Address)
	default:
		ns.Disable()
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": ns.Mode().String(), "address": ns.Address()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Debugf("web: websocket upgrade error: %v", err)
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}
	if data, err := json.Marshal(s.status()); err == nil {
		client.send <- data
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) removeClient(c *websocketClient) {
	s.mu.Lock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		data, err := json.Marshal(s.status())
		if err != nil {
			continue
		}
		select {
		case s.broadcast <- data:
		default:
			// drop if channel full (non-blocking)
		}
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxBodyBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues an arbitrary status message for every WebSocket client.
func (s *Server) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.broadcast <- data:
		return nil
	default:
		return errors.New("broadcast queue full")
	}
}

// WatchRegistry forwards registry events to WebSocket clients until ctx is
// done.
func (s *Server) WatchRegistry(ctx context.Context) {
	reg := s.app.Registry()
	sub := reg.Subscribe(func(ev registry.Event) {
		_ = s.Broadcast(map[string]string{
			"event":   ev.Kind.String(),
			"client":  ev.Client.String(),
			"version": strconv.FormatUint(ev.Version, 10),
		})
	})
	go func() {
		<-ctx.Done()
		reg.Unsubscribe(sub)
	}()
}
