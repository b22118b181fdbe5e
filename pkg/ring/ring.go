// Package ring implements the fixed-capacity RTP retransmission ring,
// the GB28181 mpegps/FLV timestamp queue, and NACK/SR/RR state (C2).
package ring

import (
	"sync"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// DefaultCapacity is the default ring size (slots), matching the
// spec's example N=1024.
const DefaultCapacity = 1024

// Ring is a fixed-capacity circular store of recent RTP packets,
// indexed by seq mod capacity, used for NACK-driven retransmission.
type Ring struct {
	mu       sync.Mutex
	slots    []*mcrtp.Packet
	capacity uint32
}

// NewRing creates a ring with the given capacity (DefaultCapacity if <= 0).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{slots: make([]*mcrtp.Packet, capacity), capacity: uint32(capacity)}
}

func (r *Ring) index(seq uint16) uint32 {
	return uint32(seq) % r.capacity
}

// Set stores pkt at slot seq mod capacity, overwriting whatever was
// there (oldest-drop semantics on overflow, per §7 resource
// exhaustion policy).
func (r *Ring) Set(seq uint16, pkt *mcrtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[r.index(seq)] = pkt
}

// At returns the slot for seq regardless of whether it holds the
// requested seq — used for coarse lookup.
func (r *Ring) At(seq uint16) *mcrtp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[r.index(seq)]
}

// FetchExact returns the stored packet only when its header sequence
// number equals seq exactly; otherwise nil.
func (r *Ring) FetchExact(seq uint16) *mcrtp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	pkt := r.slots[r.index(seq)]
	if pkt == nil || pkt.Header.SequenceNumber != seq {
		return nil
	}
	return pkt
}

// Take behaves like FetchExact but also clears the slot, transferring
// ownership to the caller — used by the send path's nack_no_copy mode
// to skip a defensive copy before retransmission.
func (r *Ring) Take(seq uint16) *mcrtp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.index(seq)
	pkt := r.slots[idx]
	if pkt == nil || pkt.Header.SequenceNumber != seq {
		return nil
	}
	r.slots[idx] = nil
	return pkt
}
