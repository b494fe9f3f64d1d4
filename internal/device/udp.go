package device

import (
	"context"
	"fmt"
	"image/color"
	"net"
	"sync"
)

const (
	dnrgbProtocol = 4
	// dnrgbTimeout is how many seconds the receiver keeps realtime mode
	// after the last packet.
	dnrgbTimeout = 2
	// dnrgbMaxLEDs keeps each datagram within a single Ethernet frame.
	dnrgbMaxLEDs = 489
)

type udpSender struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	packet []byte
}

func openUDP(ctx context.Context, address string) (*udpSender, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", address, err)
	}
	udp, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("dial udp %s: unexpected connection type %T", address, conn)
	}
	return &udpSender{conn: udp}, nil
}

// send transmits the changed range as DNRGB packets: protocol, timeout,
// big-endian start index, then RGB triples.
func (u *udpSender) send(ctx context.Context, leds []color.RGBA, start, count int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	for count > 0 {
		n := min(count, dnrgbMaxLEDs)
		u.packet = encodeDNRGB(u.packet[:0], start, leds[start:start+n])
		if _, err := u.conn.Write(u.packet); err != nil {
			return err
		}
		start += n
		count -= n
	}
	return nil
}

func (u *udpSender) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn.Close()
}

func encodeDNRGB(dst []byte, start int, leds []color.RGBA) []byte {
	dst = append(dst, dnrgbProtocol, dnrgbTimeout, byte(start>>8), byte(start))
	for _, c := range leds {
		dst = append(dst, c.R, c.G, c.B)
	}
	return dst
}

var _ interface{ Close() error } = (*udpSender)(nil)
