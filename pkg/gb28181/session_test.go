package gb28181

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringcast/mediacore/pkg/stream"
)

func TestSessionStartsInInitAndNeverReachesClosed(t *testing.T) {
	src := stream.NewSource("gb28181://device/2", 50, nil)
	s := NewSession("dev-2", 0xABCD, src, stream.VideoCodecAVC, nil)

	assert.Equal(t, SessionInit, s.State())

	s.onMediaConnected()
	assert.Equal(t, SessionEstablished, s.State())

	s.onMediaDisconnected()
	assert.Equal(t, SessionInit, s.State(), "disconnect returns to Init, not a Closed state")
}

func TestSessionListenAssignsAnEphemeralPort(t *testing.T) {
	src := stream.NewSource("gb28181://device/3", 50, nil)
	s := NewSession("dev-3", 1, src, stream.VideoCodecAVC, nil)

	port, err := s.Listen()
	require.NoError(t, err)
	assert.Positive(t, port)
	require.NoError(t, s.Close())
}
