package ring

import (
	"sync"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

// MediaKind names audio/video/script entries. MpegpsQueue's
// "≥2 video ∧ ≥2 audio" dequeue gate does not use it: the gate counts
// packets by MediaPacket.Kind, an mcrtp.FrameType.
type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaVideo
	MediaScript
)

// MediaPacket is a GB28181/FLV-bound elementary stream packet keyed
// by presentation timestamp in milliseconds.
type MediaPacket struct {
	TimestampMs int64
	Kind        mcrtp.FrameType
	Payload     []byte
}

// MpegpsQueue orders buffered media packets by timestamp, gated so
// that dequeuing only proceeds once there is enough audio and video
// buffered to avoid A/V skew at startup or during loss (§4.2).
type MpegpsQueue struct {
	mu      sync.Mutex
	byTS    map[int64]*MediaPacket
	order   []int64 // kept sorted ascending
	nVideo  int
	nAudio  int
}

// NewMpegpsQueue creates an empty queue.
func NewMpegpsQueue() *MpegpsQueue {
	return &MpegpsQueue{byTS: make(map[int64]*MediaPacket)}
}

// Push inserts pkt, bumping its effective timestamp by +1ms on
// collision until a free slot is found (bounded search).
func (q *MpegpsQueue) Push(pkt *MediaPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts := pkt.TimestampMs
	for i := 0; i < 10000; i++ {
		if _, exists := q.byTS[ts]; !exists {
			break
		}
		ts++
	}
	stored := *pkt
	stored.TimestampMs = ts
	q.byTS[ts] = &stored

	q.insertSorted(ts)

	switch pkt.Kind {
	case mcrtp.FrameTypeVideo:
		q.nVideo++
	case mcrtp.FrameTypeAudio:
		q.nAudio++
	}
}

func (q *MpegpsQueue) insertSorted(ts int64) {
	i := 0
	for i < len(q.order) && q.order[i] < ts {
		i++
	}
	q.order = append(q.order, 0)
	copy(q.order[i+1:], q.order[i:])
	q.order[i] = ts
}

// Dequeue returns the packet with the smallest timestamp iff the
// queue holds ≥2 videos AND ≥2 audios; otherwise (nil, false).
func (q *MpegpsQueue) Dequeue() (*MediaPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.nVideo < 2 || q.nAudio < 2 || len(q.order) == 0 {
		return nil, false
	}

	ts := q.order[0]
	q.order = q.order[1:]
	pkt := q.byTS[ts]
	delete(q.byTS, ts)

	switch pkt.Kind {
	case mcrtp.FrameTypeVideo:
		q.nVideo--
	case mcrtp.FrameTypeAudio:
		q.nAudio--
	}

	return pkt, true
}

// Len returns the number of buffered packets.
func (q *MpegpsQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
