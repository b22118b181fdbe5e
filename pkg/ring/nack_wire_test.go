package ring

import (
	"sort"
	"testing"
)

// #6 — NACK algebra: any lost-set built by add_lost_sn is recovered
// bit-identically by encode→decode.
func TestNackEncodeDecodeRoundTrip(t *testing.T) {
	lost := []uint16{10, 11, 12, 20, 40, 41, 42, 43}

	pkt := EncodeNack(0x1111, 0x2222, lost)
	decoded := DecodeNack(pkt)

	sort.Slice(decoded, func(i, j int) bool { return decoded[i] < decoded[j] })

	if len(decoded) != len(lost) {
		t.Fatalf("decoded %d seqs, want %d: %v", len(decoded), len(lost), decoded)
	}
	for i := range lost {
		if decoded[i] != lost[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, decoded[i], lost[i])
		}
	}
}

func TestNackEncodeDecodeSingleton(t *testing.T) {
	pkt := EncodeNack(1, 2, []uint16{65535})
	decoded := DecodeNack(pkt)
	if len(decoded) != 1 || decoded[0] != 65535 {
		t.Fatalf("decoded = %v, want [65535]", decoded)
	}
}
