package channel

import (
	"bufio"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/btcsuite/bsd/bserr"
)

// MaxLineLength bounds a single line-delimited frame (electrum,
// stratum_v1), matching the gateway-wide message size ceiling.
const MaxLineLength = 1 << 20 // 1 MiB

// MaxWSMessageLength bounds a single inbound native_ws frame, much
// tighter than the line limit since browser clients are not expected
// to submit large payloads.
const MaxWSMessageLength = 4096

// ReadLine reads one newline-delimited frame from r, stripping the
// trailing '\n' (and a preceding '\r', if present). Returns
// bserr.KindBadStream if the line, delimiter included, exceeds
// MaxLineLength; the whole line is read before its length is checked.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	if len(line) > MaxLineLength {
		return nil, bserr.New(bserr.KindBadStream, "line exceeds %d bytes", MaxLineLength)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// ReadHTTPRequest reads one HTTP/1.1 request from r, used by
// bitcoind_rpc and bitcoind_rest, whose connections are otherwise
// framed exactly like electrum's line protocol at the TCP level but
// carry full HTTP envelopes.
func ReadHTTPRequest(r *bufio.Reader) (*http.Request, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, bserr.Wrap(bserr.KindBadStream, err)
	}
	return req, nil
}

// ReadWSMessage reads one text or binary frame from conn, rejecting
// anything over MaxWSMessageLength.
func ReadWSMessage(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadLimit(MaxWSMessageLength)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, bserr.Wrap(bserr.KindBadStream, err)
	}
	return payload, nil
}

// TLVFrame is one decoded stratum_v2 message: a varint message type
// and a varint payload length (lnd's tlv varint encoding) followed by
// that many payload bytes.
type TLVFrame struct {
	Type    tlv.Type
	Payload []byte
}

// ReadTLVFrame decodes one length-prefixed TLV record from r. Unlike
// ReadLine/ReadHTTPRequest, there is no outer delimiter: the TLV
// varint length prefix itself bounds the frame, and MaxLineLength
// still caps it against a malicious oversized length.
func ReadTLVFrame(r io.Reader) (TLVFrame, error) {
	typ, err := tlv.ReadVarInt(r, &[8]byte{})
	if err != nil {
		return TLVFrame{}, bserr.Wrap(bserr.KindBadStream, err)
	}
	length, err := tlv.ReadVarInt(r, &[8]byte{})
	if err != nil {
		return TLVFrame{}, bserr.Wrap(bserr.KindBadStream, err)
	}
	if length > MaxLineLength {
		return TLVFrame{}, bserr.New(bserr.KindBadStream, "tlv record exceeds %d bytes", MaxLineLength)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return TLVFrame{}, bserr.Wrap(bserr.KindBadStream, err)
	}
	return TLVFrame{Type: tlv.Type(typ), Payload: buf}, nil
}

// WriteTLVFrame encodes one TLV record to w.
func WriteTLVFrame(w io.Writer, typ tlv.Type, payload []byte) error {
	if err := tlv.WriteVarInt(w, uint64(typ), &[8]byte{}); err != nil {
		return bserr.Wrap(bserr.KindBadAlloc, err)
	}
	if err := tlv.WriteVarInt(w, uint64(len(payload)), &[8]byte{}); err != nil {
		return bserr.Wrap(bserr.KindBadAlloc, err)
	}
	_, err := w.Write(payload)
	return err
}
