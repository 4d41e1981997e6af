package session

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/bsd/eventbus"
	"github.com/btcsuite/bsd/notification"
	"github.com/btcsuite/bsd/query"
	"github.com/btcsuite/bsd/route"
)

type fakeStream struct {
	id  uint64
	out chan []byte
}

func (f *fakeStream) ID() uint64 { return f.id }
func (f *fakeStream) Send(p []byte) error {
	f.out <- p
	return nil
}

// A block-connect event published on the bus should reach every
// subscribing route as exactly one binary notification carrying that
// block's height and hash.
func TestBlockConnectedFansOutToSubscriber(t *testing.T) {
	q := query.NewMock(&wire.MsgBlock{})
	gw := NewGateway(q)

	stream := &fakeStream{id: 1, out: make(chan []byte, 4)}
	r := route.Route{Kind: route.Stream, Stream: stream}
	_, err := gw.Notification.Subscribe(r, notification.Header, notification.Selector{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, gw.Start())
	defer gw.Stop()

	block := &wire.MsgBlock{Header: wire.BlockHeader{Nonce: 1}}
	link := q.PushBlock(block)

	gw.Bus.Publish(eventbus.Event{
		Kind:   eventbus.BlockConnected,
		Height: link.Height,
		Hash:   link.Hash,
	})

	select {
	case payload := <-stream.out:
		require.Len(t, payload, 4+1+4+32)
		require.Equal(t, uint8(0), payload[4])
		gotHeight := uint32(payload[5])<<24 | uint32(payload[6])<<16 | uint32(payload[7])<<8 | uint32(payload[8])
		require.Equal(t, link.Height, gotHeight)
		var gotHash chainhash.Hash
		copy(gotHash[:], payload[9:41])
		require.Equal(t, link.Hash, gotHash)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

// TxAccepted events match on the mempool tx hash, with no height or
// block hash in the payload and the canonical tx serialization as its
// body when the facade can serve the transaction.
func TestTxAcceptedFansOutWithZeroHeight(t *testing.T) {
	q := query.NewMock(&wire.MsgBlock{})
	gw := NewGateway(q)

	tx := &wire.MsgTx{Version: 2, TxOut: []*wire.TxOut{{Value: 5000, PkScript: []byte{0x51}}}}
	q.AddMempoolTx(tx)

	stream := &fakeStream{id: 2, out: make(chan []byte, 4)}
	r := route.Route{Kind: route.Stream, Stream: stream}
	_, err := gw.Notification.Subscribe(r, notification.TxAccepted, notification.Selector{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, gw.Start())
	defer gw.Stop()

	gw.Bus.Publish(eventbus.Event{Kind: eventbus.TxAccepted, TxHash: tx.TxHash()})

	select {
	case payload := <-stream.out:
		gotHeight := uint32(payload[5])<<24 | uint32(payload[6])<<16 | uint32(payload[7])<<8 | uint32(payload[8])
		require.Zero(t, gotHeight)
		var gotBlockHash [32]byte
		copy(gotBlockHash[:], payload[9:41])
		require.Equal(t, [32]byte{}, gotBlockHash)
		require.NotEmpty(t, payload[41:])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

// A connected block carrying two outputs whose script hash a
// subscription's selector prefixes produces exactly two notifications
// with sequence 0 then 1, both carrying that block's height and hash.
func TestBlockConnectedMatchesScriptHashPrefixPerOutput(t *testing.T) {
	q := query.NewMock(&wire.MsgBlock{})
	gw := NewGateway(q)

	script := []byte{0x76, 0xA9, 0x14}
	tx := &wire.MsgTx{Version: 1, TxOut: []*wire.TxOut{
		{Value: 1000, PkScript: script},
		{Value: 2000, PkScript: script},
	}}
	block := &wire.MsgBlock{
		Header:       wire.BlockHeader{Nonce: 7},
		Transactions: []*wire.MsgTx{tx},
	}

	stream := &fakeStream{id: 3, out: make(chan []byte, 8)}
	r := route.Route{Kind: route.Stream, Stream: stream}
	sh := sha256.Sum256(script)
	_, err := gw.Notification.Subscribe(
		r, notification.ScriptHashStatus,
		notification.Selector{Bits: sh[:1], NumBits: 8},
		time.Now().Add(time.Hour),
	)
	require.NoError(t, err)

	require.NoError(t, gw.Start())
	defer gw.Stop()

	link := q.PushBlock(block)
	gw.Bus.Publish(eventbus.Event{
		Kind:   eventbus.BlockConnected,
		Height: link.Height,
		Hash:   link.Hash,
	})

	var seqs []uint8
	for len(seqs) < 2 {
		select {
		case payload := <-stream.out:
			seqs = append(seqs, payload[4])
			gotHeight := uint32(payload[5])<<24 | uint32(payload[6])<<16 | uint32(payload[7])<<8 | uint32(payload[8])
			require.Equal(t, link.Height, gotHeight)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d notifications", len(seqs))
		}
	}
	require.Equal(t, []uint8{0, 1}, seqs)
}
