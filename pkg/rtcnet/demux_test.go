package rtcnet

import "testing"

func TestClassifySTUN(t *testing.T) {
	for b0 := byte(0); b0 <= 3; b0++ {
		if got := Classify([]byte{b0, 1, 0, 0}); got != ClassSTUN {
			t.Fatalf("Classify(byte0=%d) = %v, want STUN", b0, got)
		}
	}
}

func TestClassifyDTLS(t *testing.T) {
	for _, b0 := range []byte{20, 22, 63} {
		if got := Classify([]byte{b0, 0}); got != ClassDTLS {
			t.Fatalf("Classify(byte0=%d) = %v, want DTLS", b0, got)
		}
	}
}

func TestClassifyRTPvsRTCP(t *testing.T) {
	// RTP: version 2, no marker, PT=96 (dynamic).
	if got := Classify([]byte{0x80, 96, 0, 0}); got != ClassRTP {
		t.Fatalf("Classify(RTP PT=96) = %v, want RTP", got)
	}
	// RTCP: packet type 200 (SR) falls in the 192-223 RTCP range.
	if got := Classify([]byte{0x80, 200, 0, 0}); got != ClassRTCP {
		t.Fatalf("Classify(RTCP PT=200) = %v, want RTCP", got)
	}
	// Boundary: 191 is the last RTP/RTCP-range byte0, 192 the first RTCP PT.
	if got := Classify([]byte{191, 192}); got != ClassRTCP {
		t.Fatalf("Classify(byte0=191, pt=192) = %v, want RTCP", got)
	}
}

func TestClassifyUnknownAndEmpty(t *testing.T) {
	if got := Classify(nil); got != ClassUnknown {
		t.Fatalf("Classify(nil) = %v, want Unknown", got)
	}
	if got := Classify([]byte{64}); got != ClassUnknown {
		t.Fatalf("Classify(byte0=64) = %v, want Unknown (gap between DTLS and RTP ranges)", got)
	}
}
