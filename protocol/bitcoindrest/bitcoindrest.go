// Package bitcoindrest implements the handful of bitcoind REST
// endpoints the gateway exposes: GET-only, path-addressed, always
// responding with the format suffix the client requested (.json or
// .bin/.hex), unlike the POST-only JSON-RPC surface in bitcoindrpc.
package bitcoindrest

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/query"
)

// serializer produces a binary encoding of whatever a handler fetched
// (a block, a header, a transaction), shared across the three formats
// bitcoind's REST interface answers in.
type serializer func(*bytes.Buffer) error

// encodeBody renders ser in the requested format: "bin" is the raw
// wire bytes, "hex" is those bytes hex-encoded, and "json" is left to
// the caller (its shape differs per endpoint, unlike bin/hex which are
// always the same wire serialization).
func encodeBody(format string, ser serializer) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	if err := ser(&buf); err != nil {
		return nil, "", bserr.Wrap(bserr.KindServerError, err)
	}
	switch format {
	case "bin":
		return buf.Bytes(), "application/octet-stream", nil
	case "hex":
		return []byte(hex.EncodeToString(buf.Bytes())), "text/plain", nil
	default:
		return nil, "", bserr.New(bserr.KindInvalidComponent, "unsupported format %q", format)
	}
}

// Server holds the query facade every REST endpoint reads through.
type Server struct {
	Query query.Facade
}

// New returns a Server.
func New(q query.Facade) *Server {
	return &Server{Query: q}
}

// HandleConnection drives one accepted connection, serving each
// HTTP/1.1 request on it in turn.
func (s *Server) HandleConnection(ch *channel.Channel) {
	r := bufio.NewReader(ch)
	for {
		req, err := channel.ReadHTTPRequest(r)
		if err != nil {
			return
		}
		s.route(ch, req)
	}
}

func (s *Server) route(ch *channel.Channel, req *http.Request) {
	if req.Method != http.MethodGet {
		s.writeError(ch, bserr.New(bserr.KindInvalidArgument, "method %s not supported", req.Method))
		return
	}

	path := strings.TrimPrefix(req.URL.Path, "/rest/")
	switch {
	case strings.HasPrefix(path, "block/"):
		s.handleBlock(ch, strings.TrimPrefix(path, "block/"))
	case strings.HasPrefix(path, "tx/"):
		s.handleTx(ch, strings.TrimPrefix(path, "tx/"))
	case strings.HasPrefix(path, "headers/"):
		s.handleHeaders(ch, strings.TrimPrefix(path, "headers/"))
	default:
		s.writeError(ch, bserr.New(bserr.KindEmptyPath, "unrecognized rest path %q", req.URL.Path))
	}
}

func splitFormat(seg string) (base, format string) {
	if i := strings.LastIndexByte(seg, '.'); i >= 0 {
		return seg[:i], seg[i+1:]
	}
	return seg, "json"
}

func (s *Server) handleBlock(ch *channel.Channel, seg string) {
	hashHex, format := splitFormat(seg)
	hash, err := parseHash(hashHex)
	if err != nil {
		s.writeError(ch, err)
		return
	}
	link, err := s.Query.ToHeader(hash)
	if err != nil {
		s.writeError(ch, bserr.New(bserr.KindNotFound, "block %s not found", hashHex))
		return
	}
	block, err := s.Query.GetBlock(link, true)
	if err != nil {
		s.writeError(ch, bserr.Wrap(bserr.KindServerError, err))
		return
	}

	if format != "json" {
		body, contentType, err := encodeBody(format, func(buf *bytes.Buffer) error {
			return block.Block.Serialize(buf)
		})
		if err != nil {
			s.writeError(ch, err)
			return
		}
		s.writeBody(ch, contentType, body)
		return
	}
	txids := make([]string, len(block.Block.Transactions))
	for i, tx := range block.Block.Transactions {
		txids[i] = tx.TxHash().String()
	}
	s.writeJSON(ch, map[string]interface{}{"hash": hash.String(), "height": block.Height, "tx": txids})
}

func (s *Server) handleTx(ch *channel.Channel, seg string) {
	hashHex, format := splitFormat(seg)
	hash, err := parseHash(hashHex)
	if err != nil {
		s.writeError(ch, err)
		return
	}
	tx, err := s.Query.GetTransaction(hash, false, true)
	if err != nil {
		s.writeError(ch, bserr.New(bserr.KindNotFound, "transaction %s not found", hashHex))
		return
	}
	if format != "json" {
		body, contentType, err := encodeBody(format, func(buf *bytes.Buffer) error {
			return tx.Tx.Serialize(buf)
		})
		if err != nil {
			s.writeError(ch, err)
			return
		}
		s.writeBody(ch, contentType, body)
		return
	}
	s.writeJSON(ch, map[string]interface{}{"txid": hash.String(), "confirmed": tx.Confirmed})
}

func (s *Server) handleHeaders(ch *channel.Channel, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		s.writeError(ch, bserr.New(bserr.KindMissingPosition, "headers path requires count/hash"))
		return
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count <= 0 {
		s.writeError(ch, bserr.New(bserr.KindInvalidNumber, "invalid header count %q", parts[0]))
		return
	}
	hashHex, format := splitFormat(parts[1])
	hash, err := parseHash(hashHex)
	if err != nil {
		s.writeError(ch, err)
		return
	}
	link, err := s.Query.ToHeader(hash)
	if err != nil {
		s.writeError(ch, bserr.New(bserr.KindNotFound, "header %s not found", hashHex))
		return
	}
	var raw []wire.BlockHeader
	var headers []map[string]interface{}
	h := link.Height
	for i := 0; i < count; i++ {
		l, err := s.Query.ToConfirmed(h)
		if err != nil {
			break
		}
		hdr, err := s.Query.GetHeader(l)
		if err != nil {
			break
		}
		raw = append(raw, hdr.Header)
		headers = append(headers, map[string]interface{}{
			"height": hdr.Height,
			"time":   hdr.Header.Timestamp.Unix(),
		})
		h++
	}

	if format != "json" {
		body, contentType, err := encodeBody(format, func(buf *bytes.Buffer) error {
			for _, hdr := range raw {
				if err := hdr.Serialize(buf); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.writeError(ch, err)
			return
		}
		s.writeBody(ch, contentType, body)
		return
	}
	s.writeJSON(ch, headers)
}

func (s *Server) writeJSON(ch *channel.Channel, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.writeStatus(ch, http.StatusOK, "application/json", body)
}

func (s *Server) writeBody(ch *channel.Channel, contentType string, body []byte) {
	s.writeStatus(ch, http.StatusOK, contentType, body)
}

func (s *Server) writeError(ch *channel.Channel, err error) {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	s.writeStatus(ch, bserr.HTTPStatus(err), "application/json", body)
}

func (s *Server) writeStatus(ch *channel.Channel, status int, contentType string, body []byte) {
	header := "HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: keep-alive\r\n\r\n"
	_ = ch.Send(append([]byte(header), body...))
}

func parseHash(raw string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(raw)
	if err != nil {
		return chainhash.Hash{}, bserr.New(bserr.KindInvalidHash, "malformed hash %q", raw)
	}
	return *h, nil
}
