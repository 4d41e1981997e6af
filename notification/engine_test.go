package notification

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/route"
)

type fakeStream struct {
	id  uint64
	out [][]byte
}

func (f *fakeStream) ID() uint64 { return f.id }
func (f *fakeStream) Send(p []byte) error {
	f.out = append(f.out, p)
	return nil
}

func newEngine(t *testing.T, limit int) (*Engine, *clock.TestClock) {
	c := clock.NewTestClock(time.Unix(0, 0))
	e := NewWithClock(c, time.Hour, limit)
	t.Cleanup(e.Close)
	return e, c
}

func TestSubscribeAndMatch(t *testing.T) {
	e, clk := newEngine(t, 100)
	stream := &fakeStream{id: 1}
	r := route.Route{Kind: route.Stream, Stream: stream}

	sub, err := e.Subscribe(r, AddressPrefix, FullKey([]byte{0xAB, 0xCD}), clk.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotZero(t, sub.ID)

	matches := e.OnEvent(AddressPrefix, []byte{0xAB, 0xCD})
	require.Len(t, matches, 1)
	require.Equal(t, uint8(0), matches[0].Seq)

	matches = e.OnEvent(AddressPrefix, []byte{0xAB, 0xCD})
	require.Equal(t, uint8(1), matches[0].Seq)

	noMatch := e.OnEvent(AddressPrefix, []byte{0xFF, 0xFF})
	require.Empty(t, noMatch)
}

func TestDuplicateSubscriptionRenews(t *testing.T) {
	e, clk := newEngine(t, 100)
	stream := &fakeStream{id: 1}
	r := route.Route{Kind: route.Stream, Stream: stream}
	sel := FullKey([]byte{0x01})

	sub1, err := e.Subscribe(r, Header, sel, clk.Now().Add(time.Minute))
	require.NoError(t, err)
	e.OnEvent(Header, []byte{0x01}) // bump sequence to 1

	sub2, err := e.Subscribe(r, Header, sel, clk.Now().Add(2*time.Minute))
	require.NoError(t, err)

	require.Equal(t, sub1.ID, sub2.ID)
	require.Equal(t, 1, e.Count())

	matches := e.OnEvent(Header, []byte{0x01})
	require.Equal(t, uint8(0), matches[0].Seq)
}

func TestSubscriptionLimitReturnsPoolFilled(t *testing.T) {
	e, clk := newEngine(t, 1)
	stream1 := &fakeStream{id: 1}
	stream2 := &fakeStream{id: 2}

	_, err := e.Subscribe(route.Route{Kind: route.Stream, Stream: stream1}, Header, FullKey([]byte{0x01}), clk.Now().Add(time.Minute))
	require.NoError(t, err)

	_, err = e.Subscribe(route.Route{Kind: route.Stream, Stream: stream2}, Header, FullKey([]byte{0x02}), clk.Now().Add(time.Minute))
	require.Error(t, err)
	kind, ok := bserr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bserr.KindPoolFilled, kind)

	// Once the first subscription expires and is purged, the pool has
	// room again and the same subscribe succeeds.
	e.Purge(clk.Now().Add(2 * time.Minute))
	_, err = e.Subscribe(route.Route{Kind: route.Stream, Stream: stream2}, Header, FullKey([]byte{0x02}), clk.Now().Add(time.Hour))
	require.NoError(t, err)
}

func TestPurgeRemovesExpired(t *testing.T) {
	e, clk := newEngine(t, 100)
	stream := &fakeStream{id: 1}
	r := route.Route{Kind: route.Stream, Stream: stream}

	_, err := e.Subscribe(r, Header, FullKey([]byte{0x01}), clk.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, e.Count())

	removed := e.Purge(clk.Now().Add(2 * time.Minute))
	require.Equal(t, 1, removed)
	require.Equal(t, 0, e.Count())
}

func TestUnsubscribeRoute(t *testing.T) {
	e, clk := newEngine(t, 100)
	stream := &fakeStream{id: 1}
	r := route.Route{Kind: route.Stream, Stream: stream}

	_, err := e.Subscribe(r, Header, FullKey([]byte{0x01}), clk.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = e.Subscribe(r, TxAccepted, FullKey([]byte{0x02}), clk.Now().Add(time.Minute))
	require.NoError(t, err)

	removed := e.UnsubscribeRoute(r)
	require.Equal(t, 2, removed)
	require.Equal(t, 0, e.Count())
}

// Renew extends a subscription's lease without touching its sequence
// counter; renewing a tuple that isn't subscribed is a no-op.
func TestRenewExtendsLeaseWithoutSequenceReset(t *testing.T) {
	e, clk := newEngine(t, 100)
	stream := &fakeStream{id: 1}
	r := route.Route{Kind: route.Stream, Stream: stream}
	sel := FullKey([]byte{0x01})

	_, err := e.Subscribe(r, Header, sel, clk.Now().Add(time.Minute))
	require.NoError(t, err)
	e.OnEvent(Header, []byte{0x01}) // bump sequence to 1

	require.NoError(t, e.Renew(r, Header, sel, clk.Now().Add(time.Hour)))

	// The lease moved: a purge past the original expiry removes nothing.
	require.Zero(t, e.Purge(clk.Now().Add(2*time.Minute)))
	require.Equal(t, 1, e.Count())

	// The sequence did not reset, unlike a repeat Subscribe.
	matches := e.OnEvent(Header, []byte{0x01})
	require.Equal(t, uint8(1), matches[0].Seq)
}

func TestRenewAbsentSubscriptionIsNoOp(t *testing.T) {
	e, clk := newEngine(t, 100)
	stream := &fakeStream{id: 1}
	r := route.Route{Kind: route.Stream, Stream: stream}

	require.NoError(t, e.Renew(r, Header, FullKey([]byte{0x01}), clk.Now().Add(time.Hour)))
	require.Zero(t, e.Count())
}

func TestSubscribeMalformedSelectorIsBadStream(t *testing.T) {
	e, clk := newEngine(t, 100)
	stream := &fakeStream{id: 1}
	r := route.Route{Kind: route.Stream, Stream: stream}

	// Two bytes for a 4-bit prefix violates bytes == ceil(bits/8).
	_, err := e.Subscribe(r, AddressPrefix, Selector{Bits: []byte{0x00, 0x01}, NumBits: 4}, clk.Now().Add(time.Minute))
	require.Error(t, err)
	kind, ok := bserr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bserr.KindBadStream, kind)

	_, err = e.Subscribe(r, AddressPrefix, Selector{Bits: make([]byte, 33), NumBits: 264}, clk.Now().Add(time.Minute))
	require.Error(t, err)
	kind, _ = bserr.KindOf(err)
	require.Equal(t, bserr.KindBadStream, kind)
}

func TestNewSelectorValidShapes(t *testing.T) {
	sel, err := NewSelector([]byte{0xF0}, 4)
	require.NoError(t, err)
	require.True(t, sel.Match([]byte{0xFF}))

	empty, err := NewSelector(nil, 0)
	require.NoError(t, err)
	require.True(t, empty.Match([]byte{0x12, 0x34}))
}

func TestSelectorPrefixMatch(t *testing.T) {
	sel := Selector{Bits: []byte{0b10110000}, NumBits: 4}
	require.True(t, sel.Match([]byte{0b10111111}))
	require.False(t, sel.Match([]byte{0b10010000}))
}
