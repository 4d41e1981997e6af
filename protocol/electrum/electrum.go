// Package electrum implements the Electrum server protocol: newline-
// delimited JSON-RPC 2.0 over a persistent TCP connection, with a
// mandatory server.version handshake before any other method is
// honored and a handful of blockchain.* query methods afterward.
package electrum

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/dispatcher"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/notification"
	"github.com/btcsuite/bsd/query"
	"github.com/btcsuite/bsd/route"
)

// noExpiry is used for subscriptions the protocol keeps alive for the
// connection's lifetime; they are removed explicitly via
// notification.Engine.UnsubscribeRoute on disconnect rather than by
// the purge sweep.
func noExpiry() time.Time {
	return time.Now().Add(365 * 24 * time.Hour)
}

// maxClientNameLength bounds the client_name argument to server.version;
// anything longer is rejected as invalid_argument.
const maxClientNameLength = 32

// session is the per-connection negotiated state: a client must send
// server.version before anything else is honored, and every call after
// the first ignores client_protocol_version.
type session struct {
	clientName string
	negotiated version // v0_0 until server.version succeeds
}

// Server holds the dependencies the blockchain.* handlers need.
type Server struct {
	Query        query.Facade
	Estimator    *feeestimator.Estimator
	Notification *notification.Engine
	table        dispatcher.Table
}

// New builds a Server and its method table.
func New(q query.Facade, est *feeestimator.Estimator, notif *notification.Engine) *Server {
	s := &Server{Query: q, Estimator: est, Notification: notif}
	s.table = dispatcher.NewTable(
		dispatcher.Method{Name: "server.version", Params: []dispatcher.Param{
			{Name: "client_name", Kind: dispatcher.ParamString, Default: ""},
			{Name: "protocol_version", Kind: dispatcher.ParamAny, Nullable: true},
		}, Handler: s.serverVersion},
		dispatcher.Method{Name: "server.ping", Params: []dispatcher.Param{},
			Handler: s.ping},
		dispatcher.Method{Name: "server.banner", Params: []dispatcher.Param{},
			Handler: s.banner},
		dispatcher.Method{Name: "blockchain.headers.subscribe", Params: []dispatcher.Param{},
			Handler: s.headersSubscribe},
		dispatcher.Method{Name: "blockchain.estimatefee", Params: []dispatcher.Param{
			{Name: "number", Kind: dispatcher.ParamInteger, Required: true},
		}, Handler: s.estimateFee},
		dispatcher.Method{Name: "blockchain.transaction.get", Params: []dispatcher.Param{
			{Name: "tx_hash", Kind: dispatcher.ParamString, Required: true},
			{Name: "verbose", Kind: dispatcher.ParamBool, Default: false},
		}, Handler: s.transactionGet},
		dispatcher.Method{Name: "blockchain.scripthash.subscribe", Params: []dispatcher.Param{
			{Name: "scripthash", Kind: dispatcher.ParamString, Required: true},
		}, Handler: s.scripthashSubscribe},
		dispatcher.Method{Name: "blockchain.scripthash.get_history", Params: []dispatcher.Param{
			{Name: "scripthash", Kind: dispatcher.ParamString, Required: true},
		}, Handler: s.scripthashGetHistory},
	)
	return s
}

// HandleConnection reads newline-delimited JSON-RPC requests from ch
// until the connection closes or a frame violates the line protocol.
func (s *Server) HandleConnection(ch *channel.Channel) {
	sess := &session{}
	r := bufio.NewReader(ch)
	defer s.Notification.UnsubscribeRoute(route.Route{Kind: route.Stream, Stream: ch})
	for {
		line, err := channel.ReadLine(r)
		if err != nil {
			return
		}
		if len(line) == 0 {
			continue
		}
		s.handleLine(ch, sess, line)
	}
}

func (s *Server) handleLine(ch *channel.Channel, sess *session, line []byte) {
	var body struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(line, &body); err != nil {
		s.writeResponse(ch, dispatcher.Response{Version: "2.0", Error: &dispatcher.RPCError{
			Code: bserr.RPCCode(bserr.Sentinel(bserr.KindBadStream)), Message: "malformed json-rpc line",
		}})
		return
	}

	if sess.negotiated == v0_0 && body.Method != "server.version" {
		s.writeResponse(ch, dispatcher.Response{Version: "2.0", ID: body.ID, Error: &dispatcher.RPCError{
			Code: bserr.RPCCode(bserr.Sentinel(bserr.KindMissingVersion)), Message: "server.version must be the first call",
		}})
		return
	}

	req := dispatcher.Request{Version: "2.0", ID: body.ID, Method: body.Method, Params: body.Params}
	ctx := withSession(context.Background(), sess)
	ctx = withRoute(ctx, route.Route{Kind: route.Stream, Stream: ch})
	resp := dispatcher.Dispatch(ctx, s.table, req)
	s.writeResponse(ch, resp)

	// A failed handshake closes the channel: the client was told the
	// negotiation failed and nothing else it sends can be honored.
	if body.Method == "server.version" && sess.negotiated == v0_0 {
		ch.Close()
	}
}

type sessionKey struct{}
type routeKey struct{}

func withSession(ctx context.Context, sess *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

func withRoute(ctx context.Context, r route.Route) context.Context {
	return context.WithValue(ctx, routeKey{}, r)
}

func routeFrom(ctx context.Context) route.Route {
	r, _ := ctx.Value(routeKey{}).(route.Route)
	return r
}

func (s *Server) writeResponse(ch *channel.Channel, resp dispatcher.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = ch.Send(append(payload, '\n'))
}

// serverVersion implements server.version(client_name, client_protocol_version).
// Subsequent calls on an already-negotiated session are answered from the
// existing negotiated version without re-parsing params; renegotiation
// mid-connection is not a thing any Electrum client expects. A first call that
// fails to parse a name or negotiate a version leaves sess.negotiated at
// v0_0; the caller (handleLine) treats that as a fatal handshake failure
// and closes the channel.
func (s *Server) serverVersion(ctx context.Context, params json.RawMessage) (interface{}, error) {
	sess := sessionFrom(ctx)
	if sess == nil {
		return nil, bserr.New(bserr.KindServerError, "no session bound to request")
	}
	if sess.negotiated != v0_0 {
		return []string{serverUserAgent, versionToString(sess.negotiated)}, nil
	}

	var raw []json.RawMessage
	_ = json.Unmarshal(params, &raw)

	name := ""
	if len(raw) > 0 {
		if err := json.Unmarshal(raw[0], &name); err != nil {
			return nil, bserr.New(bserr.KindInvalidArgument, "client_name must be a string")
		}
	}
	if len(name) > maxClientNameLength {
		return nil, bserr.New(bserr.KindInvalidArgument, "client_name exceeds %d bytes", maxClientNameLength)
	}

	var versionArg json.RawMessage
	if len(raw) > 1 {
		versionArg = raw[1]
	}
	negotiated, err := negotiateVersion(versionArg)
	if err != nil {
		return nil, err
	}

	sess.clientName = sanitizeClientName(name)
	sess.negotiated = negotiated
	return []string{serverUserAgent, versionToString(negotiated)}, nil
}

// serverUserAgent is echoed back in server.version's first result slot.
const serverUserAgent = "bsd"

// negotiateVersion parses the optional client_protocol_version argument
// (absent, a single version string, or a [min,max] pair) and intersects
// it with the server's own [serverMinVersion, serverMaxVersion] range,
// The negotiated value is the upper bound of the
// intersection, matching the reference implementation this protocol is
// grounded on.
func negotiateVersion(raw json.RawMessage) (version, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return defaultVersion, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		v := versionFromString(single)
		if v == v0_0 {
			return v0_0, bserr.New(bserr.KindInvalidArgument, "unrecognized protocol version %q", single)
		}
		return intersect(v, v)
	}

	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return v0_0, bserr.New(bserr.KindInvalidArgument, "client_protocol_version must be a string or [min,max] pair")
	}
	clientMin := versionFromString(pair[0])
	clientMax := versionFromString(pair[1])
	if clientMin == v0_0 || clientMax == v0_0 {
		return v0_0, bserr.New(bserr.KindInvalidArgument, "unrecognized protocol version in %v", pair)
	}
	return intersect(clientMin, clientMax)
}

func intersect(clientMin, clientMax version) (version, error) {
	lower := maxVersion(clientMin, serverMinVersion)
	upper := minVersion(clientMax, serverMaxVersion)
	if lower > upper {
		return v0_0, bserr.New(bserr.KindInvalidArgument, "no overlapping protocol version")
	}
	return upper, nil
}

// sanitizeClientName replaces any byte that is not a printable,
// non-space ASCII character with '*', so a client-supplied name is
// safe to log and store.
func sanitizeClientName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c <= 0x20 || c >= 0x7f {
			b[i] = '*'
		}
	}
	return string(b)
}

func (s *Server) headersSubscribe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	top, err := s.Query.GetTopConfirmed()
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	link, err := s.Query.ToConfirmed(top)
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	hdr, err := s.Query.GetHeader(link)
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	return map[string]interface{}{
		"height": hdr.Height,
		"hex":    hdr.Header.BlockHash().String(),
	}, nil
}

func (s *Server) estimateFee(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []uint32
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindMissingTarget, "blockchain.estimatefee requires a target argument")
	}
	rate := s.Estimator.Estimate(args[0], feeestimator.ModeConservative)
	if rate == feeestimator.NoEstimate {
		return -1, nil
	}
	return float64(rate) * 1000 / 1e8, nil
}

func (s *Server) transactionGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(params, &raw); err != nil || len(raw) < 1 {
		return nil, bserr.New(bserr.KindMissingHash, "blockchain.transaction.get requires a txid argument")
	}
	var txid string
	if err := json.Unmarshal(raw[0], &txid); err != nil {
		return nil, bserr.New(bserr.KindInvalidHash, "txid must be a string")
	}
	verbose := false
	if len(raw) > 1 {
		_ = json.Unmarshal(raw[1], &verbose)
	}

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, bserr.New(bserr.KindInvalidHash, "malformed txid %q", txid)
	}
	tx, err := s.Query.GetTransaction(*hash, false, true)
	if err != nil {
		return nil, bserr.New(bserr.KindNotFound, "transaction %s not found", txid)
	}

	var buf bytes.Buffer
	if err := tx.Tx.Serialize(&buf); err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	rawHex := hex.EncodeToString(buf.Bytes())
	if !verbose {
		return rawHex, nil
	}
	return map[string]interface{}{
		"hex":       rawHex,
		"txid":      tx.Tx.TxHash().String(),
		"confirmed": tx.Confirmed,
	}, nil
}

func (s *Server) ping(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return nil, nil
}

func (s *Server) banner(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return serverUserAgent, nil
}

// scripthashGetHistory streams the confirmed history of a script hash
// through the query facade's FetchHistory, newest first, capped at
// maxHistoryRows per call the way public Electrum servers cap their
// own responses.
func (s *Server) scripthashGetHistory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindMissingHash, "blockchain.scripthash.get_history requires a scripthash argument")
	}
	hash, err := chainhash.NewHashFromStr(args[0])
	if err != nil {
		return nil, bserr.New(bserr.KindInvalidHash, "malformed scripthash %q", args[0])
	}

	key := query.AddressKey{IsScript: true}
	copy(key.ScriptHash[:], hash[:])

	history := make([]map[string]interface{}, 0)
	err = s.Query.FetchHistory(key, maxHistoryRows, 0, func(row query.HistoryRow) bool {
		history = append(history, map[string]interface{}{
			"height":  row.Height,
			"tx_hash": row.TxHash.String(),
		})
		return true
	})
	if err != nil {
		return nil, bserr.Wrap(bserr.KindServerError, err)
	}
	return history, nil
}

// maxHistoryRows bounds a single get_history response.
const maxHistoryRows = 10000

func (s *Server) scripthashSubscribe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindMissingHash, "blockchain.scripthash.subscribe requires a scripthash argument")
	}
	key, err := chainhash.NewHashFromStr(args[0])
	if err != nil {
		return nil, bserr.New(bserr.KindInvalidHash, "malformed scripthash %q", args[0])
	}

	_, err = s.Notification.Subscribe(
		routeFrom(ctx),
		notification.ScriptHashStatus,
		notification.FullKey(key[:]),
		noExpiry(),
	)
	if err != nil {
		return nil, err
	}
	return nil, nil
}
