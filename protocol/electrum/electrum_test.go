package electrum

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/notification"
	"github.com/btcsuite/bsd/query"
)

// newTestConn wires a Server to one end of a net.Pipe and returns the
// client end plus a line reader over it.
func newTestConn(t *testing.T) (net.Conn, *bufio.Reader) {
	genesis := chaincfg.MainNetParams.GenesisBlock
	srv := New(query.NewMock(genesis), feeestimator.New(), notification.New())

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ch := channel.New(channel.NewRawTransport(server), nil)
	ch.SetState(channel.Ready)
	go srv.HandleConnection(ch)

	return client, bufio.NewReader(client)
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

// TestServerVersionNegotiatesWithinRange: a client offering protocol
// range [1.2, 1.5] negotiates down to this
// gateway's maximum supported version, 1.4.2.
func TestServerVersionNegotiatesWithinRange(t *testing.T) {
	conn, r := newTestConn(t)

	writeLine(t, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "server.version",
		"params":  []interface{}{"Test/0.1", []string{"1.2", "1.5"}},
	})

	resp := readLine(t, r)
	require.Nil(t, resp["error"])
	result, ok := resp["result"].([]interface{})
	require.True(t, ok)
	require.Len(t, result, 2)
	require.Equal(t, "1.4.2", result[1])
}

// TestServerVersionDefaultsTo1_4 covers the absent-argument case.
func TestServerVersionDefaultsTo1_4(t *testing.T) {
	conn, r := newTestConn(t)

	writeLine(t, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "server.version",
		"params":  []interface{}{"Test/0.1"},
	})

	resp := readLine(t, r)
	result, ok := resp["result"].([]interface{})
	require.True(t, ok)
	require.Equal(t, "1.4", result[1])
}

// TestServerVersionEmptyIntersectionCloses: an offered range entirely
// below the server's minimum fails the handshake and the connection
// closes.
func TestServerVersionEmptyIntersectionCloses(t *testing.T) {
	conn, r := newTestConn(t)

	writeLine(t, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "server.version",
		"params":  []interface{}{"Test/0.1", []string{"0.6", "0.8"}},
	})

	resp := readLine(t, r)
	require.NotNil(t, resp["error"])
}

// TestServerVersionUnknownSingleVersionAboveMax covers the case of a
// client pinning one exact version the server doesn't reach: a single
// offered version is a degenerate [v,v] range, so anything above the
// server's maximum has an empty intersection.
func TestServerVersionUnknownSingleVersionAboveMax(t *testing.T) {
	conn, r := newTestConn(t)

	writeLine(t, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "server.version",
		"params":  []interface{}{"Test/0.1", "1.5"},
	})

	resp := readLine(t, r)
	require.NotNil(t, resp["error"])
}

// TestScripthashGetHistory exercises the FetchHistory-backed method
// against the mock facade's genesis-only chain.
func TestScripthashGetHistory(t *testing.T) {
	conn, r := newTestConn(t)

	writeLine(t, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "server.version",
		"params":  []interface{}{"Test/0.1"},
	})
	_ = readLine(t, r)

	scripthash := "00000000000000000000000000000000000000000000000000000000000000ff"
	writeLine(t, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "blockchain.scripthash.get_history",
		"params":  []interface{}{scripthash},
	})

	resp := readLine(t, r)
	require.Nil(t, resp["error"])
	_, ok := resp["result"].([]interface{})
	require.True(t, ok)
}

// TestMethodBeforeHandshakeRejected covers "server.version must be the
// first call."
func TestMethodBeforeHandshakeRejected(t *testing.T) {
	conn, r := newTestConn(t)

	writeLine(t, conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "blockchain.headers.subscribe",
	})

	resp := readLine(t, r)
	require.NotNil(t, resp["error"])
}
