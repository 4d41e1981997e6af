package bitcoindrest

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/query"
)

func newTestConn(t *testing.T) (net.Conn, *bufio.Reader) {
	genesis := chaincfg.MainNetParams.GenesisBlock
	srv := New(query.NewMock(genesis))

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ch := channel.New(channel.NewRawTransport(server), nil)
	ch.SetState(channel.Ready)
	go srv.HandleConnection(ch)

	return client, bufio.NewReader(client)
}

func doGet(t *testing.T, conn net.Conn, r *bufio.Reader, path string) *http.Response {
	_, err := conn.Write([]byte("GET " + path + " HTTP/1.1\r\nHost: localhost\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	return resp
}

func TestHandleBlockJSON(t *testing.T) {
	conn, r := newTestConn(t)
	hash := chaincfg.MainNetParams.GenesisBlock.BlockHash().String()

	resp := doGet(t, conn, r, "/rest/block/"+hash+".json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHandleBlockHexMatchesSerializedBytes(t *testing.T) {
	conn, r := newTestConn(t)
	genesis := chaincfg.MainNetParams.GenesisBlock
	hash := genesis.BlockHash().String()

	resp := doGet(t, conn, r, "/rest/block/"+hash+".hex")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	raw, err := hex.DecodeString(string(body))
	require.NoError(t, err)

	var want bytes.Buffer
	require.NoError(t, genesis.Serialize(&want))
	require.Equal(t, want.Bytes(), raw)
}

func TestHandleBlockUnsupportedFormat(t *testing.T) {
	conn, r := newTestConn(t)
	hash := chaincfg.MainNetParams.GenesisBlock.BlockHash().String()

	resp := doGet(t, conn, r, "/rest/block/"+hash+".xml")
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}
