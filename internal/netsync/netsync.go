// Package netsync keeps the settings of several visualizer instances in step.
// One instance runs as server and pushes its settings to every connected
// client over a WebSocket; clients replace their local settings with each
// snapshot they receive.
package netsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	applog "github.com/guidoenr/rgbvis/internal/log"
	"github.com/guidoenr/rgbvis/internal/settings"
)

// Mode is the role of this instance.
type Mode int

const (
	Disabled Mode = iota
	Server
	Client
)

func (m Mode) String() string {
	switch m {
	case Server:
		return "server"
	case Client:
		return "client"
	default:
		return "disabled"
	}
}

// ParseMode resolves a mode name.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "disabled", "off", "local":
		return Disabled, nil
	case "server":
		return Server, nil
	case "client":
		return Client, nil
	}
	return Disabled, fmt.Errorf("unknown net mode %q", name)
}

var (
	ErrBadAddress   = errors.New("malformed peer address")
	ErrNotConnected = errors.New("not connected to a server")
	ErrWrongMode    = errors.New("operation not valid in current mode")
)

const (
	// DefaultPath is where servers accept peers.
	DefaultPath  = "/sync"
	writeTimeout = 2 * time.Second
)

// ParseAddress turns "host:port" or "ws://host:port/path" into a WebSocket
// URL.
func ParseAddress(addr string) (*url.URL, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("empty address: %w", ErrBadAddress)
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", addr, ErrBadAddress)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%q: scheme must be ws or wss: %w", addr, ErrBadAddress)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || port == "" {
		return nil, fmt.Errorf("%q: need host:port: %w", addr, ErrBadAddress)
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return nil, fmt.Errorf("%q: bad port: %w", addr, ErrBadAddress)
	}
	u.Host = net.JoinHostPort(host, port)
	if u.Path == "" {
		u.Path = DefaultPath
	}
	return u, nil
}

// Sync owns the peer connections of one instance.
type Sync struct {
	store    *settings.Store
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu       sync.Mutex
	mode     Mode
	addr     *url.URL
	server   *http.Server
	listener net.Listener
	peers    map[*peer]struct{}
	upstream *peer
	// seq numbers broadcasts so a peer never gets an older snapshot after
	// a newer one.
	seq      uint64

	sent     atomic.Uint64
	received atomic.Uint64
}

// New returns a Sync in Disabled mode that applies received snapshots to
// store.
func New(store *settings.Store) *Sync {
	return &Sync{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		peers:  make(map[*peer]struct{}),
	}
}

// Mode reports the current role.
func (s *Sync) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Address reports the configured listen or server address, or "" when
// disabled.
func (s *Sync) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// InitServer starts accepting peers on addr. Nothing changes if addr is
// malformed or cannot be bound.
func (s *Sync) InitServer(addr string) error {
	u, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("listen %s: %w", u.Host, err)
	}

	mux := http.NewServeMux()
	mux.Handle(u.Path, s.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	old := s.teardownLocked()
	s.mode = Server
	u.Host = ln.Addr().String()
	s.addr = u
	s.server = srv
	s.listener = ln
	s.mu.Unlock()
	old()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("netsync: server on %s: %v", ln.Addr(), err)
		}
	}()
	applog.Infof("netsync: serving settings on %s", u)
	return nil
}

// InitClient points this instance at the server at addr. The connection
// itself is made by Connect. Nothing changes if addr is malformed.
func (s *Sync) InitClient(addr string) error {
	u, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.teardownLocked()
	s.mode = Client
	s.addr = u
	s.mu.Unlock()
	old()
	applog.Infof("netsync: following settings from %s", u)
	return nil
}

// Disable drops every connection and returns to local mode.
func (s *Sync) Disable() {
	s.mu.Lock()
	old := s.teardownLocked()
	s.mode = Disabled
	s.addr = nil
	s.mu.Unlock()
	old()
}

// Close is Disable.
func (s *Sync) Close() error {
	s.Disable()
	return nil
}

// teardownLocked detaches the current server, peers and upstream connection
// and returns a func that closes them once the lock is released.
func (s *Sync) teardownLocked() func() {
	srv, peers, up := s.server, s.peers, s.upstream
	s.server, s.listener, s.upstream = nil, nil, nil
	s.peers = make(map[*peer]struct{})
	return func() {
		if srv != nil {
			_ = srv.Close()
		}
		for p := range peers {
			_ = p.Close()
		}
		if up != nil {
			_ = up.Close()
		}
	}
}

// Handler upgrades requests to peer connections. InitServer mounts it; tests
// may serve it directly.
func (s *Sync) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			applog.Warnf("netsync: upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		p := newPeer(conn)

		// registering and reading the snapshot together means any broadcast
		// that misses this peer is older than the snapshot it gets
		s.mu.Lock()
		s.peers[p] = struct{}{}
		seq := s.seq
		snap := s.store.Get()
		n := len(s.peers)
		s.mu.Unlock()

		blob, err := snap.MarshalBinary()
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			err = p.sendSeq(ctx, seq, blob)
			cancel()
		}
		if err != nil {
			applog.Warnf("netsync: initial snapshot to %s: %v", p.RemoteAddr(), err)
			s.dropPeer(p, err)
			return
		}
		applog.Infof("netsync: peer %s connected, %d total", p.RemoteAddr(), n)

		go s.drain(p)
	})
}

// drain reads and discards peer messages so control frames are handled,
// and drops the peer when the connection ends.
func (s *Sync) drain(p *peer) {
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			s.dropPeer(p, err)
			return
		}
	}
}

func (s *Sync) dropPeer(p *peer, cause error) {
	s.mu.Lock()
	_, ok := s.peers[p]
	delete(s.peers, p)
	s.mu.Unlock()
	if ok {
		applog.Infof("netsync: peer %s dropped: %v", p.RemoteAddr(), cause)
	}
	_ = p.Close()
}

// Peers returns the number of connected peers in server mode.
func (s *Sync) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// SendSettings encodes st and sends it to every peer. Peers that fail or
// miss the write deadline are dropped. Only servers have peers, so on
// other instances it sends nothing.
func (s *Sync) SendSettings(ctx context.Context, st settings.Settings) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	blob, err := st.MarshalBinary()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			if err := p.sendSeq(ctx, seq, blob); err != nil {
				s.dropPeer(p, err)
			}
		}(p)
	}
	wg.Wait()
	s.sent.Add(1)
	return nil
}

// Connect dials the configured server. It is an error outside client mode.
func (s *Sync) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.mode != Client {
		s.mu.Unlock()
		return fmt.Errorf("connect in %s mode: %w", s.mode, ErrWrongMode)
	}
	target := *s.addr
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target.String(), err)
	}
	p := newPeer(conn)

	s.mu.Lock()
	// the mode may have changed while dialing
	if s.mode != Client || s.addr == nil || s.addr.String() != target.String() {
		s.mu.Unlock()
		_ = p.Close()
		return fmt.Errorf("connect %s: %w", target.String(), ErrWrongMode)
	}
	old := s.upstream
	s.upstream = p
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	applog.Infof("netsync: connected to %s", target.String())
	return nil
}

// Connected reports whether a client has a live upstream connection.
func (s *Sync) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream != nil
}

// Receive applies snapshots from the server until the connection fails or
// ctx ends. Each snapshot replaces the local settings as a whole.
func (s *Sync) Receive(ctx context.Context) error {
	s.mu.Lock()
	p := s.upstream
	s.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	defer stop()

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.upstream == p {
				s.upstream = nil
			}
			s.mu.Unlock()
			_ = p.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive from %s: %w", p.RemoteAddr(), err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		var next settings.Settings
		if err := next.UnmarshalBinary(data); err != nil {
			applog.Warnf("netsync: discarding snapshot from %s: %v", p.RemoteAddr(), err)
			continue
		}
		if err := s.store.Replace(next); err != nil {
			applog.Warnf("netsync: rejecting snapshot from %s: %v", p.RemoteAddr(), err)
			continue
		}
		s.received.Add(1)
		applog.Debugf("netsync: applied snapshot from %s", p.RemoteAddr())
	}
}

// Stats reports how many broadcasts were sent and snapshots applied.
func (s *Sync) Stats() (sent, received uint64) {
	return s.sent.Load(), s.received.Load()
}
