package rtcnet

import (
	"fmt"
	"net"

	"github.com/pion/stun/v3"
)

// BuildBindingRequest constructs a STUN Binding Request using the
// ICE-lite USERNAME convention "<remote-ufrag>:<local-ufrag>" and
// short-term credential MESSAGE-INTEGRITY keyed by icePwd, per
// spec.md §4.5/§6.
func BuildBindingRequest(remoteUfrag, localUfrag, icePwd string) (*stun.Message, error) {
	username := stun.NewUsername(fmt.Sprintf("%s:%s", remoteUfrag, localUfrag))
	return stun.Build(
		stun.TransactionID,
		stun.BindingRequest,
		username,
		stun.NewShortTermIntegrity(icePwd),
		stun.Fingerprint,
	)
}

// BuildBindingResponse constructs a successful Binding Response for
// req, carrying XOR-MAPPED-ADDRESS for the peer address the request
// arrived from.
func BuildBindingResponse(req *stun.Message, mappedIP net.IP, mappedPort int, icePwd string) (*stun.Message, error) {
	m := new(stun.Message)
	m.TransactionID = req.TransactionID
	m.SetType(stun.BindingSuccess)

	xorAddr := &stun.XORMappedAddress{IP: mappedIP, Port: mappedPort}
	if err := xorAddr.AddTo(m); err != nil {
		return nil, err
	}
	integrity := stun.NewShortTermIntegrity(icePwd)
	if err := integrity.AddTo(m); err != nil {
		return nil, err
	}
	if err := stun.Fingerprint.AddTo(m); err != nil {
		return nil, err
	}
	m.WriteHeader()
	return m, nil
}

// ParseBindingRequest decodes raw as a STUN message, requires it to
// be a Binding Request, and verifies its MESSAGE-INTEGRITY against
// icePwd.
func ParseBindingRequest(raw []byte, icePwd string) (*stun.Message, error) {
	m := new(stun.Message)
	m.Raw = append([]byte(nil), raw...)
	if err := m.Decode(); err != nil {
		return nil, fmt.Errorf("rtcnet: decode STUN message: %w", err)
	}
	if m.Type != stun.BindingRequest {
		return nil, fmt.Errorf("rtcnet: not a STUN binding request: %s", m.Type)
	}
	integrity := stun.NewShortTermIntegrity(icePwd)
	if err := integrity.Check(m); err != nil {
		return nil, fmt.Errorf("rtcnet: STUN integrity check failed: %w", err)
	}
	return m, nil
}

// IsStunMessage is a cheap RFC 7983 pre-check, usable before spending
// a full Decode on a datagram of uncertain type.
func IsStunMessage(b []byte) bool {
	return Classify(b) == ClassSTUN
}
