package rtp

import (
	"testing"

	pionrtp "github.com/pion/rtp"
)

func buildPaddedPacket(t *testing.T, payload []byte) []byte {
	t.Helper()
	hdr := pionrtp.Header{
		Version: 2,
		Padding: true,
		PayloadType: 96,
		SequenceNumber: 1,
		Timestamp: 1000,
		SSRC: 0xdeadbeef,
	}
	hdrBytes, err := hdr.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return append(hdrBytes, payload...)
}

// #5 — padding safety: decoding a still-ciphered packet with P=1 and
// an invalid trailing pad-length byte fails; with ignore_padding it
// succeeds (the outer SRTP layer validates padding after decrypt).
func TestPaddingSafety(t *testing.T) {
	// "Ciphertext" whose last byte (0x00) is not a valid pad length.
	raw := buildPaddedPacket(t, []byte{0x01, 0x02, 0x03, 0x00})

	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected decode to fail on still-ciphered padded packet")
	}

	pkt, err := Decode(raw, IgnorePadding(true))
	if err != nil {
		t.Fatalf("decode with ignore_padding should succeed, got %v", err)
	}
	if len(pkt.Payload) != 4 {
		t.Fatalf("ignore_padding should leave payload untouched, got len %d", len(pkt.Payload))
	}
}

func TestStripPaddingAfterDecrypt(t *testing.T) {
	// Last byte 3 means the final 3 bytes are padding.
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x03}
	out, err := StripPaddingAfterDecrypt(payload, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("stripped payload len = %d, want 3", len(out))
	}
}
