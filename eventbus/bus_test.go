package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublishDelivers(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(4)

	b.Publish(Event{Kind: BlockConnected, Height: 100})

	select {
	case ev := <-ch:
		require.Equal(t, BlockConnected, ev.Kind)
		require.Equal(t, uint32(100), ev.Height)
		require.NotZero(t, ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestOverflowDropsOldestNotStop(t *testing.T) {
	b := New()
	h, ch := b.Subscribe(2)

	// Fill past capacity without draining, so the bus must evict.
	for i := uint32(0); i < 5; i++ {
		b.Publish(Event{Kind: BlockConnected, Height: i})
	}

	time.Sleep(50 * time.Millisecond)
	require.Greater(t, b.DroppedCount(h), uint64(0))

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			goto done
		}
	}
done:
	require.Greater(t, drained, 0)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	h, ch := b.Subscribe(4)
	b.Unsubscribe(h)

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestCloseSendsStopToAllSubscribers(t *testing.T) {
	b := New()
	_, ch1 := b.Subscribe(4)
	_, ch2 := b.Subscribe(4)

	b.Close()

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev, ok := <-ch:
			require.True(t, ok)
			require.Equal(t, Stop, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("stop event not delivered")
		}
	}
}
