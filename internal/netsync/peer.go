package netsync

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is a connected instance settings blobs can be sent to.
type Peer interface {
	Send(ctx context.Context, blob []byte) error
	RemoteAddr() string
	Close() error
}

type peer struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	// next is the lowest broadcast sequence still worth sending.
	next      uint64
	closeOnce sync.Once
	closeErr  error
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{conn: conn}
}

// Send writes blob as one binary message. The write deadline is the earlier
// of ctx's deadline and writeTimeout from now.
func (p *peer) Send(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.write(ctx, blob)
}

// sendSeq is Send for broadcast number seq. It sends nothing when a later
// broadcast already went out.
func (p *peer) sendSeq(ctx context.Context, seq uint64, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if seq < p.next {
		return nil
	}
	if err := p.write(ctx, blob); err != nil {
		return err
	}
	p.next = seq + 1
	return nil
}

func (p *peer) write(ctx context.Context, blob []byte) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, blob)
}

func (p *peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

func (p *peer) Close() error {
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		_ = p.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

var _ Peer = (*peer)(nil)
