package security

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/srtp/v3"
)

// ProtectionProfile names the SRTP cipher suite negotiated over the
// DTLS-SRTP extension (AES_CM_128_HMAC_SHA1_80/_32 per spec.md §6).
type ProtectionProfile = srtp.ProtectionProfile

// SRTPKeys holds the four key/salt values an RFC 5764 keying-material
// export splits into: each side's local (write) and remote (read)
// master key and salt.
type SRTPKeys struct {
	LocalKey, LocalSalt   []byte
	RemoteKey, RemoteSalt []byte
}

// SplitSRTPKeyingMaterial slices a DTLS exported-keying-material blob
// into client/server key and salt halves and assigns local/remote
// based on which DTLS role this side played.
func SplitSRTPKeyingMaterial(material []byte, keyLen, saltLen int, clientRole bool) (SRTPKeys, error) {
	need := 2*keyLen + 2*saltLen
	if len(material) < need {
		return SRTPKeys{}, errors.New("security: keying material shorter than key+salt layout")
	}

	off := 0
	clientKey := material[off : off+keyLen]
	off += keyLen
	serverKey := material[off : off+keyLen]
	off += keyLen
	clientSalt := material[off : off+saltLen]
	off += saltLen
	serverSalt := material[off : off+saltLen]

	if clientRole {
		return SRTPKeys{LocalKey: clientKey, LocalSalt: clientSalt, RemoteKey: serverKey, RemoteSalt: serverSalt}, nil
	}
	return SRTPKeys{LocalKey: serverKey, LocalSalt: serverSalt, RemoteKey: clientKey, RemoteSalt: clientSalt}, nil
}

// SRTPContext wraps the one-directional pion/srtp contexts needed to
// protect outbound and unprotect inbound RTP/RTCP for one session.
type SRTPContext struct {
	mu  sync.Mutex
	enc *srtp.Context
	dec *srtp.Context

	unprotectFailures uint64
}

// NewSRTPContext builds encrypt/decrypt contexts from the keys
// exported off a completed DTLS-SRTP handshake.
func NewSRTPContext(profile ProtectionProfile, keys SRTPKeys) (*SRTPContext, error) {
	enc, err := srtp.CreateContext(keys.LocalKey, keys.LocalSalt, profile)
	if err != nil {
		return nil, err
	}
	dec, err := srtp.CreateContext(keys.RemoteKey, keys.RemoteSalt, profile)
	if err != nil {
		return nil, err
	}
	return &SRTPContext{enc: enc, dec: dec}, nil
}

// ProtectRTP encrypts and authenticates a marshaled RTP packet,
// returning the ciphertext (larger than the input by the auth tag).
func (c *SRTPContext) ProtectRTP(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.EncryptRTP(nil, plaintext, nil)
}

// UnprotectRTP validates the auth tag and decrypts. Failure is a hard
// error per spec.md §4.4; callers must drop the packet and bump a
// loss counter rather than retry.
func (c *SRTPContext) UnprotectRTP(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.dec.DecryptRTP(nil, ciphertext, nil)
	if err != nil {
		atomic.AddUint64(&c.unprotectFailures, 1)
		return nil, err
	}
	return out, nil
}

// ProtectRTCP encrypts and authenticates a marshaled RTCP packet.
func (c *SRTPContext) ProtectRTCP(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.EncryptRTCP(nil, plaintext)
}

// UnprotectRTCP validates the auth tag and decrypts an RTCP packet.
func (c *SRTPContext) UnprotectRTCP(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.dec.DecryptRTCP(nil, ciphertext)
	if err != nil {
		atomic.AddUint64(&c.unprotectFailures, 1)
		return nil, err
	}
	return out, nil
}

// UnprotectFailures returns the running count of auth-tag validation
// failures across both RTP and RTCP.
func (c *SRTPContext) UnprotectFailures() uint64 {
	return atomic.LoadUint64(&c.unprotectFailures)
}
