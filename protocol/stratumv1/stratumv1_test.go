package stratumv1

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/notification"
)

func newTestConn(t *testing.T) (net.Conn, *bufio.Reader, *notification.Engine) {
	engine := notification.New()
	t.Cleanup(engine.Close)
	srv := New(engine)

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ch := channel.New(channel.NewRawTransport(server), nil)
	ch.SetState(channel.Ready)
	go srv.HandleConnection(ch)

	return client, bufio.NewReader(client), engine
}

func writeLine(t *testing.T, conn net.Conn, v interface{}) {
	body, err := json.Marshal(v)
	require.NoError(t, err)
	body = append(body, '\n')
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = conn.Write(body)
	require.NoError(t, err)
}

func readLine(t *testing.T, r *bufio.Reader) map[string]interface{} {
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &v))
	return v
}

func miningSubscribe(t *testing.T, conn net.Conn, r *bufio.Reader, id int) {
	writeLine(t, conn, map[string]interface{}{
		"id":     id,
		"method": "mining.subscribe",
		"params": []interface{}{"miner/1.0"},
	})
	resp := readLine(t, r)
	require.Nil(t, resp["error"])
	require.NotNil(t, resp["result"])
}

// The first mining.subscribe registers one job subscription; a repeat
// subscribe from the same connection renews its lease rather than
// re-registering, so the notification sequence keeps counting instead
// of resetting to 0.
func TestRepeatSubscribeRenewsWithoutSequenceReset(t *testing.T) {
	conn, r, engine := newTestConn(t)

	miningSubscribe(t, conn, r, 1)
	require.Equal(t, 1, engine.Count())

	matches := engine.OnEvent(notification.MiningJob, []byte{0x01})
	require.Len(t, matches, 1)
	require.Equal(t, uint8(0), matches[0].Seq)

	miningSubscribe(t, conn, r, 2)
	require.Equal(t, 1, engine.Count())

	matches = engine.OnEvent(notification.MiningJob, []byte{0x01})
	require.Len(t, matches, 1)
	require.Equal(t, uint8(1), matches[0].Seq)
}

func TestAuthorizeRejectsMalformedWorkerPubKey(t *testing.T) {
	conn, r, _ := newTestConn(t)

	// 66 hex-length prefix that is not a valid secp256k1 point.
	badKey := "02" + "0000000000000000000000000000000000000000000000000000000000000000"
	writeLine(t, conn, map[string]interface{}{
		"id":     1,
		"method": "mining.authorize",
		"params": []interface{}{badKey + ".worker1", ""},
	})

	resp := readLine(t, r)
	require.NotNil(t, resp["error"])
}
