package bitcoindrpc

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/query"
)

func newTestConn(t *testing.T) (net.Conn, *bufio.Reader) {
	genesis := chaincfg.MainNetParams.GenesisBlock
	srv := New(query.NewMock(genesis), feeestimator.New())

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ch := channel.New(channel.NewRawTransport(server), nil)
	ch.SetState(channel.Ready)
	go srv.HandleConnection(ch)

	return client, bufio.NewReader(client)
}

func TestOptionsPreflightAnswersCORSHeaders(t *testing.T) {
	conn, r := newTestConn(t)

	_, err := conn.Write([]byte("OPTIONS / HTTP/1.1\r\nHost: localhost\r\nOrigin: http://example.test\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))
}

// TestGetRawTransactionVerboseFlag pins the optional second parameter:
// omitted or false yields the raw hex string, true yields the verbose
// object carrying that same hex plus the txid.
func TestGetRawTransactionVerboseFlag(t *testing.T) {
	genesisCoinbase := chaincfg.MainNetParams.GenesisBlock.Transactions[0].TxHash().String()

	post := func(t *testing.T, body string) map[string]interface{} {
		conn, r := newTestConn(t)
		req := "POST / HTTP/1.1\r\nHost: localhost\r\nContent-Length: " +
			strconv.Itoa(len(body)) + "\r\n\r\n" + body
		_, err := conn.Write([]byte(req))
		require.NoError(t, err)

		resp, err := http.ReadResponse(r, nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		var decoded map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
		require.Nil(t, decoded["error"])
		return decoded
	}

	t.Run("default is raw hex", func(t *testing.T) {
		decoded := post(t, `{"jsonrpc":"1.0","id":1,"method":"getrawtransaction","params":["`+genesisCoinbase+`"]}`)
		raw, ok := decoded["result"].(string)
		require.True(t, ok)
		require.NotEmpty(t, raw)
	})

	t.Run("verbose true is an object", func(t *testing.T) {
		decoded := post(t, `{"jsonrpc":"1.0","id":1,"method":"getrawtransaction","params":["`+genesisCoinbase+`", true]}`)
		obj, ok := decoded["result"].(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, genesisCoinbase, obj["txid"])
		require.NotEmpty(t, obj["hex"])
	})
}

func TestPostResponseCarriesCORSHeader(t *testing.T) {
	conn, r := newTestConn(t)

	body := `{"jsonrpc":"1.0","id":1,"method":"getblockchaininfo"}`
	req := "POST / HTTP/1.1\r\nHost: localhost\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

