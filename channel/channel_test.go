package channel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipeChannel(t *testing.T, capacity int, onOverflow OverflowFunc) (*Channel, net.Conn) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	ch := NewWithCapacity(NewRawTransport(server), capacity, onOverflow)
	t.Cleanup(func() { ch.Close() })
	return ch, client
}

func TestChannelStartsOpening(t *testing.T) {
	ch, _ := pipeChannel(t, 4, nil)
	require.Equal(t, Opening, ch.State())
}

func TestSendDeliversToTransport(t *testing.T) {
	ch, client := pipeChannel(t, 4, nil)
	ch.SetState(Ready)

	go func() {
		require.NoError(t, ch.Send([]byte("hello")))
	}()

	buf := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestOverflowTransitionsToDrainingAndFiresCallback(t *testing.T) {
	var fired bool
	// A net.Pipe has no internal buffering and nothing reads the client
	// end, so the write loop blocks writing the first frame; with
	// capacity 1 the second frame fills the outbox and the third Send
	// overflows.
	ch, _ := pipeChannel(t, 1, func(c *Channel) { fired = true })
	ch.SetState(Ready)

	require.NoError(t, ch.Send([]byte("a")))
	// Give the write loop a moment to take the first frame off the
	// outbox (depth back to 0) and block writing it, so the second Send
	// is queued and the third finds the outbox full.
	time.Sleep(20 * time.Millisecond)

	_ = ch.Send([]byte("b"))
	err := ch.Send([]byte("c"))
	require.Error(t, err)
	require.True(t, fired)
	require.Equal(t, Draining, ch.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	ch, _ := pipeChannel(t, 4, nil)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.Equal(t, Closed, ch.State())
}

func TestSendAfterCloseFails(t *testing.T) {
	ch, _ := pipeChannel(t, 4, nil)
	require.NoError(t, ch.Close())
	err := ch.Send([]byte("x"))
	require.Error(t, err)
}
