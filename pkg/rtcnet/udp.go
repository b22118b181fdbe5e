package rtcnet

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"
)

// PeerFastID derives a resource-manager fast id for a UDP peer by
// packing the source port into the high bits and the IPv4 address
// into the low bits, so a 5-tuple lookup can use the manager's
// fast-id index instead of a string key (spec.md §4.3).
func PeerFastID(addr *net.UDPAddr) (uint64, bool) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return 0, false
	}
	ipBits := binary.BigEndian.Uint32(ip4)
	return uint64(uint16(addr.Port))<<48 | uint64(ipBits), true
}

// SendCache caches connected, write-only UDP sockets keyed by remote
// address, so the hot send path avoids resolving the destination on
// every write the way an unconnected WriteToUDP call would.
type SendCache struct {
	mu    sync.Mutex
	byKey map[string]*net.UDPConn
}

// NewSendCache creates an empty cache.
func NewSendCache() *SendCache {
	return &SendCache{byKey: make(map[string]*net.UDPConn)}
}

// Send writes b to remote, dialing (and caching) a connected socket
// on first use.
func (c *SendCache) Send(remote *net.UDPAddr, b []byte) error {
	c.mu.Lock()
	key := remote.String()
	conn, ok := c.byKey[key]
	if !ok {
		var err error
		conn, err = net.DialUDP("udp", nil, remote)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.byKey[key] = conn
	}
	c.mu.Unlock()

	_, err := conn.Write(b)
	return err
}

// Close closes every cached socket.
func (c *SendCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, conn := range c.byKey {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.byKey, key)
	}
	return firstErr
}

// UDPListener owns one bound, demultiplexed UDP socket shared by
// every peer on that port (the normal ICE-lite / RFC 7983 setup: one
// socket, many 5-tuples).
type UDPListener struct {
	conn *net.UDPConn
}

// ListenUDP binds laddr.
func ListenUDP(laddr *net.UDPAddr) (*UDPListener, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &UDPListener{conn: conn}, nil
}

// LocalAddr returns the bound address.
func (l *UDPListener) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Serve reads datagrams until ctx is canceled or the socket errors,
// classifying and dispatching each to handler. Read deadlines are
// used so ctx cancellation is observed promptly instead of blocking
// forever in a read syscall.
func (l *UDPListener) Serve(ctx context.Context, handler Handler) error {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return err
		}
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		cp := append([]byte(nil), buf[:n]...)
		handler(Classify(cp), cp, remote)
	}
}

// WriteTo sends b to remote directly off the listening socket (used
// for STUN responses, which don't warrant a cached send socket).
func (l *UDPListener) WriteTo(b []byte, remote *net.UDPAddr) error {
	_, err := l.conn.WriteToUDP(b, remote)
	return err
}

// Close closes the listening socket.
func (l *UDPListener) Close() error { return l.conn.Close() }
