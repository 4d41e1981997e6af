// Package bitcoindrpc implements the bitcoind-compatible JSON-RPC
// surface: HTTP POST over keep-alive connections, the historical
// bitcoind response envelope ({"result", "error", "id"}). The
// authoritative method set is fixed at eight names; the rest of the
// advertised surface answers not_implemented rather than guessing at
// bitcoind's full several-hundred-method semantics, and unknown names
// fall through to the dispatcher's method-not-found.
package bitcoindrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/dispatcher"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/query"
)

// Server holds the dependencies every handler closes over.
type Server struct {
	Query     query.Facade
	Estimator *feeestimator.Estimator
	Table     dispatcher.Table

	// AllowedHosts restricts the Host header a request may present; an
	// empty list means no restriction (local-only deployments).
	AllowedHosts []string

	// AllowedOrigins restricts the Origin a CORS preflight and response
	// may carry; an empty list answers "*" (wide open), matching
	// bitcoind's own REST CORS default.
	AllowedOrigins []string
}

// New builds a Server and its fixed eight-method table.
func New(q query.Facade, est *feeestimator.Estimator) *Server {
	s := &Server{Query: q, Estimator: est}
	s.Table = dispatcher.NewTable(
		dispatcher.Method{Name: "getblockchaininfo", Params: []dispatcher.Param{},
			Handler: s.getBlockchainInfo},
		dispatcher.Method{Name: "getblockhash", Params: []dispatcher.Param{
			{Name: "height", Kind: dispatcher.ParamInteger, Required: true},
		}, Handler: s.getBlockHash},
		dispatcher.Method{Name: "getblockheader", Params: []dispatcher.Param{
			{Name: "blockhash", Kind: dispatcher.ParamString, Required: true},
			{Name: "verbose", Kind: dispatcher.ParamBool, Default: true},
		}, Handler: s.getBlockHeader},
		dispatcher.Method{Name: "getblock", Params: []dispatcher.Param{
			{Name: "blockhash", Kind: dispatcher.ParamString, Required: true},
			{Name: "verbosity", Kind: dispatcher.ParamInteger, Default: 1},
		}, Handler: s.getBlock},
		dispatcher.Method{Name: "getrawtransaction", Params: []dispatcher.Param{
			{Name: "txid", Kind: dispatcher.ParamString, Required: true},
			{Name: "verbose", Kind: dispatcher.ParamBool, Default: false},
		}, Handler: s.getRawTransaction},
		dispatcher.Method{Name: "sendrawtransaction", Params: []dispatcher.Param{
			{Name: "hexstring", Kind: dispatcher.ParamString, Required: true},
		}, Handler: s.sendRawTransaction},
		dispatcher.Method{Name: "estimatesmartfee", Params: []dispatcher.Param{
			{Name: "conf_target", Kind: dispatcher.ParamInteger, Required: true},
			{Name: "estimate_mode", Kind: dispatcher.ParamString, Default: "CONSERVATIVE"},
		}, Handler: s.estimateSmartFee},
		dispatcher.Method{Name: "getmempoolentry", Params: []dispatcher.Param{
			{Name: "txid", Kind: dispatcher.ParamString, Required: true},
		}, Handler: s.getMempoolEntry},
	)

	// The rest of the advertised bitcoind surface resolves to a
	// placeholder answering not_implemented, so a probing client can
	// tell "this server doesn't do that" apart from a typo'd method.
	for _, name := range advertisedUnimplemented {
		s.Table[name] = dispatcher.Method{Name: name, Handler: notImplemented}
	}
	return s
}

var advertisedUnimplemented = []string{
	"getnetworkinfo",
	"getpeerinfo",
	"getmininginfo",
	"getrawmempool",
	"getmempoolinfo",
	"gettxout",
	"uptime",
	"stop",
}

func notImplemented(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return nil, bserr.New(bserr.KindNotImplemented, "method not implemented")
}

// HandleConnection drives one accepted TCP connection: bitcoind's RPC
// server is HTTP/1.1 with keep-alive, so a single Channel may carry
// several requests before the client or server closes it.
func (s *Server) HandleConnection(ch *channel.Channel) {
	r := bufio.NewReader(ch)
	for {
		req, err := channel.ReadHTTPRequest(r)
		if err != nil {
			return
		}
		if !s.hostAllowed(req.Host) {
			s.writeError(ch, bserr.New(bserr.KindBadHost, "host %q not allowed", req.Host))
			continue
		}
		if origin := req.Header.Get("Origin"); origin != "" && !s.originAllowed(origin) {
			s.writeError(ch, bserr.New(bserr.KindForbiddenOrigin, "origin %q not allowed", origin))
			continue
		}
		if req.Method == http.MethodOptions {
			s.writeCORSPreflight(ch)
			continue
		}
		s.handleRequest(ch, req)
	}
}

// hostAllowed applies the exact-match, case-insensitive host policy.
func (s *Server) hostAllowed(host string) bool {
	if len(s.AllowedHosts) == 0 {
		return true
	}
	for _, h := range s.AllowedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func (s *Server) handleRequest(ch *channel.Channel, req *http.Request) {
	var body struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(ch, bserr.Wrap(bserr.KindBadStream, err))
		return
	}
	version := body.JSONRPC
	if version == "" {
		version = "1.0"
	}

	resp := dispatcher.Dispatch(context.Background(), s.Table, dispatcher.Request{
		Version: version,
		ID:      body.ID,
		Method:  body.Method,
		Params:  body.Params,
	})
	s.writeResponse(ch, resp)
}

func (s *Server) writeResponse(ch *channel.Channel, resp dispatcher.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	status := http.StatusOK
	if resp.Error != nil {
		status = bserr.HTTPStatus(bserr.Sentinel(bserr.KindServerError))
	}
	_ = ch.Send(s.httpResponseBytes(status, payload))
}

func (s *Server) writeError(ch *channel.Channel, err error) {
	status := bserr.HTTPStatus(err)
	body, _ := json.Marshal(dispatcher.RPCError{Code: bserr.RPCCode(err), Message: err.Error()})
	_ = ch.Send(s.httpResponseBytes(status, body))
}

// writeCORSPreflight answers an OPTIONS request with the CORS headers
// a browser-based RPC client's preflight expects;
// no body and no RPC dispatch happens for OPTIONS.
func (s *Server) writeCORSPreflight(ch *channel.Channel) {
	header := "HTTP/1.1 204 No Content\r\n" +
		"Access-Control-Allow-Origin: " + s.allowedOrigin() + "\r\n" +
		"Access-Control-Allow-Methods: POST, OPTIONS\r\n" +
		"Access-Control-Allow-Headers: Content-Type, Authorization\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: keep-alive\r\n\r\n"
	_ = ch.Send([]byte(header))
}

// originAllowed reports whether origin may talk to this endpoint.
// Origin policy is only consulted when the request actually carries an
// Origin header; non-browser clients never present one and are
// admitted on host policy alone.
func (s *Server) originAllowed(origin string) bool {
	if len(s.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) allowedOrigin() string {
	if len(s.AllowedOrigins) == 0 {
		return "*"
	}
	return s.AllowedOrigins[0]
}

func (s *Server) httpResponseBytes(status int, body []byte) []byte {
	header := "HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Access-Control-Allow-Origin: " + s.allowedOrigin() + "\r\n" +
		"Connection: keep-alive\r\n\r\n"
	return append([]byte(header), body...)
}

func parseHash(raw string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(raw)
	if err != nil {
		return chainhash.Hash{}, bserr.New(bserr.KindInvalidHash, "malformed hash %q", raw)
	}
	return *h, nil
}
