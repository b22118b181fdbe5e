package ring

import (
	"sort"

	"github.com/pion/rtcp"
)

// EncodeNack packs a sorted set of lost sequence numbers into a
// TransportLayerNack RTCP packet, contiguous-run-packing each FCI
// block as {pid, blp} per §4.2 (blp bit i set means pid+i+1 also lost).
func EncodeNack(senderSSRC, mediaSSRC uint32, lost []uint16) *rtcp.TransportLayerNack {
	sorted := append([]uint16(nil), lost...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var pairs []rtcp.NackPair
	i := 0
	for i < len(sorted) {
		pid := sorted[i]
		var blp uint16
		j := i + 1
		for j < len(sorted) {
			delta := int(sorted[j]) - int(pid)
			if delta < 1 || delta > 16 {
				break
			}
			blp |= 1 << uint(delta-1)
			j++
		}
		pairs = append(pairs, rtcp.NackPair{PacketID: pid, LostPackets: rtcp.PacketBitmap(blp)})
		i = j
	}

	return &rtcp.TransportLayerNack{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		Nacks:      pairs,
	}
}

// DecodeNack expands a TransportLayerNack's FCI blocks back into the
// full list of lost sequence numbers.
func DecodeNack(pkt *rtcp.TransportLayerNack) []uint16 {
	var out []uint16
	for _, pair := range pkt.Nacks {
		out = append(out, pair.PacketList()...)
	}
	return out
}
