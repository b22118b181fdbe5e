package rtcnet

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPeerFastIDPacksPortAndIPv4(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	id, ok := PeerFastID(addr)
	if !ok {
		t.Fatal("PeerFastID should succeed for an IPv4 address")
	}

	wantIP := uint64(10)<<24 | uint64(0)<<16 | uint64(0)<<8 | uint64(1)
	want := uint64(5000)<<48 | wantIP
	if id != want {
		t.Fatalf("PeerFastID = %#x, want %#x", id, want)
	}

	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5001}
	if id2, _ := PeerFastID(other); id2 == id {
		t.Fatal("different ports must produce different fast ids")
	}
}

func TestPeerFastIDRejectsIPv6(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 1}
	if _, ok := PeerFastID(addr); ok {
		t.Fatal("PeerFastID should reject non-IPv4 addresses")
	}
}

func TestUDPListenerServeDispatchesClassifiedDatagrams(t *testing.T) {
	l, err := ListenUDP(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan PacketClass, 1)
	go func() {
		_ = l.Serve(ctx, func(class PacketClass, data []byte, remote net.Addr) {
			received <- class
		})
	}()

	conn, err := net.DialUDP("udp", nil, l.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x80, 96, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}

	select {
	case class := <-received:
		if class != ClassRTP {
			t.Fatalf("dispatched class = %v, want RTP", class)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched datagram")
	}
}

func TestSendCacheReusesConnectionForSameRemote(t *testing.T) {
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	cache := NewSendCache()
	defer cache.Close()

	remote := l.LocalAddr().(*net.UDPAddr)
	if err := cache.Send(remote, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := cache.Send(remote, []byte("world")); err != nil {
		t.Fatal(err)
	}

	cache.mu.Lock()
	n := len(cache.byKey)
	cache.mu.Unlock()
	if n != 1 {
		t.Fatalf("cache holds %d sockets for one remote, want 1 (socket reuse)", n)
	}

	buf := make([]byte, 16)
	l.SetReadDeadline(time.Now().Add(2 * time.Second))
	n1, _, err := l.ReadFromUDP(buf)
	if err != nil || string(buf[:n1]) != "hello" {
		t.Fatalf("first datagram = %q, err=%v, want hello", buf[:n1], err)
	}
}
