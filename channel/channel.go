// Package channel is the transport-agnostic connection wrapper every
// protocol handler runs on top of: a net.Conn or a gorilla/websocket
// connection is adapted to the same Transport interface, wrapped in a
// single-consumer strand for serialized handling, and given a bounded
// outbound write queue so one slow client can't block the rest of the
// gateway.
//
// The shape follows lnd's peer connection: its readHandler/
// writeHandler/queueHandler triad becomes Transport.Read in a
// protocol-owned read loop, the strand's run loop, and outbox here,
// respectively.
package channel

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/queue"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/metrics"
)

// State is the channel lifecycle per the gateway's connection state
// machine.
type State int32

const (
	Opening State = iota
	Handshaking
	Ready
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the minimal surface Channel needs from an underlying
// connection. rawConn (net.Conn) and wsConn (*websocket.Conn) both
// implement it; see transport.go.
type Transport interface {
	io.Reader
	WriteMessage(p []byte) error
	Close() error
	RemoteAddr() string
}

const defaultOutboxCapacity = 512

// OverflowFunc is called inline from Send, on the sending goroutine,
// the moment an outbound write queue overflows and the channel
// transitions to Draining. Channels accepted by session.Listener get a
// nil OverflowFunc; subscription cleanup after an overflow happens in
// the gateway's fan-out, which drops every subscription on a route
// whose Send fails.
type OverflowFunc func(ch *Channel)

// Channel wraps one accepted connection.
type Channel struct {
	id        uint64
	transport Transport
	state     atomic.Int32

	strand *strand
	outbox *queue.ConcurrentQueue
	depth  atomic.Int64
	cap    int

	onOverflow OverflowFunc
	closeOnce  func()
}

var nextID atomic.Uint64

// New wraps t in a Channel with the default outbox capacity.
func New(t Transport, onOverflow OverflowFunc) *Channel {
	return NewWithCapacity(t, defaultOutboxCapacity, onOverflow)
}

// NewWithCapacity is New with an explicit outbox capacity, for tests
// and for protocols (like Stratum) that want a tighter backpressure
// threshold than the default.
func NewWithCapacity(t Transport, capacity int, onOverflow OverflowFunc) *Channel {
	outbox := queue.NewConcurrentQueue(capacity)
	outbox.Start()

	ch := &Channel{
		id:         nextID.Add(1),
		transport:  t,
		strand:     newStrand(),
		outbox:     outbox,
		cap:        capacity,
		onOverflow: onOverflow,
	}
	ch.state.Store(int32(Opening))
	go ch.writeLoop()
	metrics.ChannelCount.Inc()
	return ch
}

// ID returns the channel's process-local identity, used by route.Route
// as a StreamHandle.
func (c *Channel) ID() uint64 { return c.id }

// RemoteAddr returns the underlying transport's peer address, for
// admission control and logging.
func (c *Channel) RemoteAddr() string { return c.transport.RemoteAddr() }

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

// SetState transitions the channel to s.
func (c *Channel) SetState(s State) { c.state.Store(int32(s)) }

// Read delegates to the underlying transport, for protocol frame
// readers that need raw bytes (e.g. a bufio.Reader wrapping Channel).
func (c *Channel) Read(p []byte) (int, error) { return c.transport.Read(p) }

// Send enqueues payload for delivery, implementing route.StreamHandle.
// If the channel is Closed, returns bserr.KindChannelStopped. If the
// outbox is already at capacity, the channel transitions to Draining,
// onOverflow fires once, and the write is rejected with
// bserr.KindChannelOverflow rather than blocking the caller.
func (c *Channel) Send(payload []byte) error {
	if c.State() == Closed {
		return bserr.New(bserr.KindChannelStopped, "channel closed")
	}
	if c.depth.Load() >= int64(c.cap) {
		if c.State() != Draining {
			c.SetState(Draining)
			metrics.ChannelOverflows.Inc()
			if c.onOverflow != nil {
				c.onOverflow(c)
			}
		}
		return bserr.New(bserr.KindChannelOverflow, "outbound queue full")
	}
	c.depth.Add(1)
	c.outbox.ChanIn() <- payload
	return nil
}

func (c *Channel) writeLoop() {
	for raw := range c.outbox.ChanOut() {
		c.depth.Add(-1)
		payload := raw.([]byte)
		if err := c.transport.WriteMessage(payload); err != nil {
			c.Close()
			return
		}
		if c.State() == Draining && c.depth.Load() == 0 {
			c.SetState(Ready)
		}
	}
}

// Execute runs fn serialized against every other Execute call on this
// channel, i.e. on its strand.
func (c *Channel) Execute(fn func()) error {
	return c.strand.Execute(fn)
}

// closeFlushDeadline bounds how long Close waits for already-queued
// frames to reach the transport before tearing it down, so a response
// enqueued just before a deliberate close (e.g. a failed handshake's
// error reply) still makes it onto the wire.
const closeFlushDeadline = 500 * time.Millisecond

// Close transitions the channel to Closed and tears down its strand,
// outbox, and transport, after a bounded flush of any frames already
// queued. Idempotent.
func (c *Channel) Close() error {
	if State(c.state.Swap(int32(Closed))) == Closed {
		return nil
	}
	metrics.ChannelCount.Dec()

	deadline := time.Now().Add(closeFlushDeadline)
	for c.depth.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	c.strand.Stop()
	c.outbox.Stop()
	return c.transport.Close()
}
