package security

import "testing"

func TestModeFlags(t *testing.T) {
	cases := []struct {
		mode           Mode
		wantDTLS, wantSRTP bool
	}{
		{ModeSecure, true, true},
		{ModeSemiSecure, true, false},
		{ModePlaintext, false, false},
	}
	for _, c := range cases {
		if got := c.mode.NeedsDTLS(); got != c.wantDTLS {
			t.Errorf("%s.NeedsDTLS() = %v, want %v", c.mode, got, c.wantDTLS)
		}
		if got := c.mode.NeedsSRTP(); got != c.wantSRTP {
			t.Errorf("%s.NeedsSRTP() = %v, want %v", c.mode, got, c.wantSRTP)
		}
	}
}

func TestPlaintextTransportPassesThrough(t *testing.T) {
	tr := NewTransport(ModePlaintext, nil)

	if tr.State() != StateEstablished {
		t.Fatalf("plaintext transport state = %v, want Established", tr.State())
	}

	pkt := []byte{1, 2, 3, 4}
	got, err := tr.ProtectRTP(pkt)
	if err != nil || &got[0] != &pkt[0] {
		t.Fatalf("ProtectRTP should pass the same bytes through unchanged under plaintext")
	}

	got, err = tr.UnprotectRTCP(pkt)
	if err != nil || &got[0] != &pkt[0] {
		t.Fatalf("UnprotectRTCP should pass the same bytes through unchanged under plaintext")
	}
}

func TestSemiSecureTransportLeavesMediaInClear(t *testing.T) {
	dtls := NewDTLSTransport(DTLSConfig{Role: DTLSRoleServer})
	tr := NewTransport(ModeSemiSecure, dtls)

	// AttachSRTP must be a no-op outside ModeSecure even if called.
	tr.AttachSRTP(&SRTPContext{})

	pkt := []byte{9, 9, 9}
	got, err := tr.ProtectRTP(pkt)
	if err != nil || &got[0] != &pkt[0] {
		t.Fatal("semi-secure ProtectRTP must pass media through unencrypted")
	}
}

// on_dtls_handshake_done must be idempotent: a second call after
// Established (modelling the peer's Finished retransmission) is a
// successful no-op, not a state regression or error.
func TestOnHandshakeDoneIdempotent(t *testing.T) {
	dtls := NewDTLSTransport(DTLSConfig{Role: DTLSRoleClient})

	dtls.mu.Lock()
	dtls.state = StateDtls
	dtls.mu.Unlock()

	dtls.OnHandshakeDone()
	if got := dtls.State(); got != StateEstablished {
		t.Fatalf("state after first OnHandshakeDone = %v, want Established", got)
	}

	dtls.OnHandshakeDone() // second call, simulating ARQ retransmit of Finished
	if got := dtls.State(); got != StateEstablished {
		t.Fatalf("state after second OnHandshakeDone = %v, want still Established", got)
	}
}

func TestHandleAlertCloseNotifyClosesAndForwards(t *testing.T) {
	var got Alert
	dtls := NewDTLSTransport(DTLSConfig{
		Role:    DTLSRoleServer,
		OnAlert: func(a Alert) { got = a },
	})
	dtls.mu.Lock()
	dtls.state = StateEstablished
	dtls.mu.Unlock()

	dtls.HandleAlert("close_notify", "peer initiated shutdown")

	if !got.CloseNotify {
		t.Fatal("close_notify alert should be flagged as CloseNotify")
	}
	if dtls.State() != StateClosed {
		t.Fatalf("state after close_notify = %v, want Closed", dtls.State())
	}
}

func TestHandleAlertNonFatalDoesNotClose(t *testing.T) {
	var got Alert
	dtls := NewDTLSTransport(DTLSConfig{
		Role:    DTLSRoleServer,
		OnAlert: func(a Alert) { got = a },
	})
	dtls.mu.Lock()
	dtls.state = StateEstablished
	dtls.mu.Unlock()

	dtls.HandleAlert("warning", "no_renegotiation")

	if got.CloseNotify {
		t.Fatal("non-close_notify alert must not be flagged as CloseNotify")
	}
	if dtls.State() != StateEstablished {
		t.Fatalf("state after non-fatal alert = %v, want unchanged Established", dtls.State())
	}
}

func TestSplitSRTPKeyingMaterialAssignsLocalRemoteByRole(t *testing.T) {
	const keyLen, saltLen = 4, 2
	material := []byte{
		1, 1, 1, 1, // client key
		2, 2, 2, 2, // server key
		3, 3, // client salt
		4, 4, // server salt
	}

	client, err := SplitSRTPKeyingMaterial(material, keyLen, saltLen, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(client.LocalKey) != string([]byte{1, 1, 1, 1}) {
		t.Fatalf("client LocalKey = %v, want client key", client.LocalKey)
	}
	if string(client.RemoteKey) != string([]byte{2, 2, 2, 2}) {
		t.Fatalf("client RemoteKey = %v, want server key", client.RemoteKey)
	}

	server, err := SplitSRTPKeyingMaterial(material, keyLen, saltLen, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(server.LocalKey) != string([]byte{2, 2, 2, 2}) {
		t.Fatalf("server LocalKey = %v, want server key", server.LocalKey)
	}
	if string(server.RemoteKey) != string([]byte{1, 1, 1, 1}) {
		t.Fatalf("server RemoteKey = %v, want client key", server.RemoteKey)
	}
}

func TestSplitSRTPKeyingMaterialTooShort(t *testing.T) {
	if _, err := SplitSRTPKeyingMaterial([]byte{1, 2, 3}, 4, 2, true); err == nil {
		t.Fatal("expected error for undersized keying material")
	}
}
