package channel

import (
	"net"

	"github.com/gorilla/websocket"
)

// rawConn adapts a plain net.Conn (bitcoind_rpc, bitcoind_rest,
// electrum, stratum_v1/v2) to Transport. Each WriteMessage call is one
// logical application message; framing (newline delimiters, HTTP
// response bytes, TLV records) is already applied by the caller before
// it reaches Send.
type rawConn struct {
	net.Conn
}

// NewRawTransport wraps c for use with New/NewWithCapacity.
func NewRawTransport(c net.Conn) Transport {
	return rawConn{Conn: c}
}

func (r rawConn) WriteMessage(p []byte) error {
	_, err := r.Conn.Write(p)
	return err
}

func (r rawConn) RemoteAddr() string {
	if a := r.Conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// wsConn adapts a *websocket.Conn (native_ws) to Transport.
type wsConn struct {
	conn *websocket.Conn
}

// NewWSTransport wraps c for use with New/NewWithCapacity. Inbound
// reads are expected to go through ReadWSMessage in frame.go rather
// than wsConn.Read, since websocket framing is message-oriented, not a
// byte stream; Read is implemented only to satisfy io.Reader and
// always returns errWSStreamRead.
func NewWSTransport(c *websocket.Conn) Transport {
	return &wsConn{conn: c}
}

func (w *wsConn) Read(p []byte) (int, error) {
	return 0, errWSStreamRead
}

func (w *wsConn) WriteMessage(p []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, p)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

func (w *wsConn) RemoteAddr() string {
	if a := w.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

var errWSStreamRead = wsStreamReadError{}

type wsStreamReadError struct{}

func (wsStreamReadError) Error() string {
	return "websocket transport does not support byte-stream reads; use ReadWSMessage"
}
