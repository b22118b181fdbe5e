package rtcsession

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcrtp "github.com/ringcast/mediacore/pkg/rtp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testDiscard{}, nil))
}

type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }

func newTestSession(t *testing.T) (*Session, *recordingWriter) {
	t.Helper()
	writer := &recordingWriter{}
	sess := NewSession(context.Background(), "sess-1", plaintextTransport(), writer, discardLogger())
	return sess, writer
}

func TestSessionIngestRTPRoutesToMatchingTrack(t *testing.T) {
	sess, _ := newTestSession(t)
	track := sess.AddRecvTrack(TrackVideo, 0x1234, 90000)

	hdr := pionrtp.Header{Version: 2, SSRC: 0x1234, SequenceNumber: 7, Timestamp: 90000}
	raw, err := (&pionrtp.Packet{Header: hdr, Payload: []byte("frame")}).Marshal()
	require.NoError(t, err)

	require.NoError(t, sess.IngestRTP(raw, time.Now()))

	received, _ := track.Stats()
	assert.Equal(t, uint64(1), received)
}

func TestSessionIngestRTPDropsUnknownSSRC(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.AddRecvTrack(TrackVideo, 0x1, 90000)

	hdr := pionrtp.Header{Version: 2, SSRC: 0xDEAD, SequenceNumber: 1}
	raw, err := (&pionrtp.Packet{Header: hdr}).Marshal()
	require.NoError(t, err)

	// Unknown SSRC is dropped, not an error.
	assert.NoError(t, sess.IngestRTP(raw, time.Now()))
}

func TestSessionIngestRTCPDispatchesSenderReportAndNack(t *testing.T) {
	sess, writer := newTestSession(t)
	recvTrack := sess.AddRecvTrack(TrackVideo, 0x10, 90000)
	sendTrack := sess.AddSendTrack(TrackVideo, 0x20, 90000)

	require.NoError(t, sendTrack.Send(pionrtp.Header{}, []byte("a")))
	require.Equal(t, 1, writer.count())

	now := time.Now()
	sr := &rtcp.SenderReport{SSRC: 0x10, NTPTime: uint64(mcrtp.FromTimeMs(now.UnixMilli()).NTP64), RTPTime: 1000}
	nack := &rtcp.TransportLayerNack{MediaSSRC: 0x20, Nacks: []rtcp.NackPair{{PacketID: 0}}}

	compound, err := rtcp.Marshal([]rtcp.Packet{sr, nack})
	require.NoError(t, err)

	require.NoError(t, sess.IngestRTCP(compound))

	_, ok := recvTrack.sync.AVSyncMs(1000)
	assert.False(t, ok, "a single SR is not enough for an AV-sync mapping yet, but it must be recorded without error")
	assert.Equal(t, 2, writer.count(), "the nacked packet must have been resent")
}

func TestSessionStartAndCloseStopsCleanly(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.tickInterval = 5 * time.Millisecond
	sess.Start()
	time.Sleep(15 * time.Millisecond)
	sess.Close()
}
