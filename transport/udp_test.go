package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/semigate/session"
)

func TestForwardFrameRoundTrip(t *testing.T) {
	dst := session.NewEndpoint([]byte{10, 0, 0, 9}, 46751, true)
	payload := []byte("datagram payload")

	frame := EncodeForwardFrame(dst, payload)
	require.True(t, HasForwardFrame(frame))

	got, rest, err := DecodeForwardFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)
	assert.Equal(t, dst.Address(), got.Address())
	assert.Equal(t, dst.Port(), got.Port())
	// A peer extracted from a frame is reachable only via the forwarder.
	assert.True(t, got.Forward())
}

func TestForwardFrameIPv6(t *testing.T) {
	addr := make([]byte, 16)
	addr[15] = 1
	dst := session.NewEndpoint(addr, 9000, true)

	frame := EncodeForwardFrame(dst, []byte{0xaa})
	got, rest, err := DecodeForwardFrame(frame)
	require.NoError(t, err)
	require.Equal(t, addr, got.Address())
	require.Equal(t, []byte{0xaa}, rest)
}

func TestDecodeForwardFrameRejectsMalformed(t *testing.T) {
	_, _, err := DecodeForwardFrame(nil)
	require.ErrorIs(t, err, ErrBadFrame)

	_, _, err = DecodeForwardFrame([]byte("SGFW"))
	require.ErrorIs(t, err, ErrBadFrame)

	// Bad address length.
	_, _, err = DecodeForwardFrame([]byte{'S', 'G', 'F', 'W', 7, 0, 0})
	require.ErrorIs(t, err, ErrBadFrame)

	// Truncated address and port.
	_, _, err = DecodeForwardFrame([]byte{'S', 'G', 'F', 'W', 4, 10, 0})
	require.ErrorIs(t, err, ErrBadFrame)

	require.False(t, HasForwardFrame([]byte("SGF")))
	require.False(t, HasForwardFrame([]byte("XGFW....")))
}

// readOneDatagram binds a loopback UDP socket and returns its endpoint plus a
// channel yielding the first datagram received.
func readOneDatagram(t *testing.T) (session.Endpoint, <-chan []byte) {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, maxDatagram)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			close(got)
			return
		}
		got <- append([]byte(nil), buf[:n]...)
	}()

	ap := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return session.EndpointFromAddrPort(ap, false), got
}

func TestUDPSenderSend(t *testing.T) {
	dst, got := readOneDatagram(t)
	sender := NewUDPSender(nil)

	require.NoError(t, sender.Send(dst, []byte("direct")))

	select {
	case data := <-got:
		require.Equal(t, []byte("direct"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram never arrived")
	}
}

func TestUDPSenderForward(t *testing.T) {
	forwarder, got := readOneDatagram(t)
	sender := NewUDPSender(nil)

	final := session.NewEndpoint([]byte{10, 0, 0, 77}, 4000, true)
	require.NoError(t, sender.Forward(forwarder, final, []byte("relayed")))

	select {
	case data := <-got:
		// The forwarder hop receives a frame carrying the final destination.
		embedded, payload, err := DecodeForwardFrame(data)
		require.NoError(t, err)
		require.Equal(t, []byte("relayed"), payload)
		require.Equal(t, final.Address(), embedded.Address())
		require.Equal(t, final.Port(), embedded.Port())
	case <-time.After(5 * time.Second):
		t.Fatal("frame never arrived")
	}
}
