// Package stratumv1 implements the Stratum mining protocol: newline-
// delimited JSON-RPC 1.0 with two directions of traffic on the same
// connection — the miner calls mining.subscribe/authorize/submit, and
// the gateway pushes mining.notify/mining.set_difficulty as
// unsolicited notifications (JSON-RPC requests with no id).
package stratumv1

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/dispatcher"
	"github.com/btcsuite/bsd/notification"
	"github.com/btcsuite/bsd/route"
)

// Job is the work template the gateway pushes via mining.notify.
type Job struct {
	JobID        string
	PrevHash     [32]byte
	Coinbase1    []byte
	Coinbase2    []byte
	MerkleBranch [][32]byte
	Version      uint32
	Bits         uint32
	Time         uint32
	CleanJobs    bool
}

// defaultJobLease is how long a miner's job subscription lives without
// a refreshing mining.subscribe.
const defaultJobLease = time.Hour

// Server holds the dependencies mining.* handlers need.
type Server struct {
	Notification *notification.Engine

	// Lease bounds a miner's job subscription; zero selects
	// defaultJobLease. A repeat mining.subscribe on the same
	// connection extends the lease.
	Lease time.Duration

	table dispatcher.Table
}

// New builds a Server and its method table.
func New(notif *notification.Engine) *Server {
	s := &Server{Notification: notif}
	s.table = dispatcher.NewTable(
		dispatcher.Method{Name: "mining.subscribe", Params: []dispatcher.Param{
			{Name: "user_agent", Kind: dispatcher.ParamString, Default: ""},
			{Name: "session_id", Kind: dispatcher.ParamString, Nullable: true},
		}, Handler: s.subscribe},
		dispatcher.Method{Name: "mining.authorize", Params: []dispatcher.Param{
			{Name: "username", Kind: dispatcher.ParamString, Required: true},
			{Name: "password", Kind: dispatcher.ParamString, Default: ""},
		}, Handler: s.authorize},
		dispatcher.Method{Name: "mining.submit", Params: []dispatcher.Param{
			{Name: "worker_name", Kind: dispatcher.ParamString, Required: true},
			{Name: "job_id", Kind: dispatcher.ParamString, Required: true},
			{Name: "extranonce2", Kind: dispatcher.ParamString, Required: true},
			{Name: "ntime", Kind: dispatcher.ParamString, Required: true},
			{Name: "nonce", Kind: dispatcher.ParamString, Required: true},
		}, Handler: s.submit},
	)
	return s
}

// session is the per-connection miner state: whether this connection
// already holds a job subscription, so a repeat mining.subscribe
// renews its lease instead of resetting its notification sequence.
type session struct {
	subscribed bool
}

// HandleConnection reads newline-delimited JSON-RPC requests from ch
// until the connection closes.
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
		return
	}

	ctx := withRoute(context.Background(), route.Route{Kind: route.Stream, Stream: ch})
	ctx = withSession(ctx, sess)
	req := dispatcher.Request{Version: "1.0", ID: body.ID, Method: body.Method, Params: body.Params}
	resp := dispatcher.Dispatch(ctx, s.table, req)
	s.writeResponse(ch, resp)
}

type routeKey struct{}
type sessionKey struct{}

func withRoute(ctx context.Context, r route.Route) context.Context {
	return context.WithValue(ctx, routeKey{}, r)
}

func routeFrom(ctx context.Context) route.Route {
	r, _ := ctx.Value(routeKey{}).(route.Route)
	return r
}

func withSession(ctx context.Context, sess *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func sessionFrom(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionKey{}).(*session)
	return sess
}

func (s *Server) writeResponse(ch *channel.Channel, resp dispatcher.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = ch.Send(append(payload, '\n'))
}

func (s *Server) subscribe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	lease := s.Lease
	if lease <= 0 {
		lease = defaultJobLease
	}
	expiry := time.Now().Add(lease)

	// The first mining.subscribe registers this miner for job pushes;
	// a repeat subscribe from the same connection only refreshes the
	// lease, keeping the notification sequence intact so the miner's
	// gap detection survives the refresh.
	r := routeFrom(ctx)
	sess := sessionFrom(ctx)
	if sess != nil && sess.subscribed {
		if err := s.Notification.Renew(r, notification.MiningJob, notification.Selector{}, expiry); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.Notification.Subscribe(r, notification.MiningJob, notification.Selector{}, expiry); err != nil {
			return nil, err
		}
		if sess != nil {
			sess.subscribed = true
		}
	}

	extranonce1 := make([]byte, 4)
	return []interface{}{
		[][]string{{"mining.set_difficulty", "1"}, {"mining.notify", "1"}},
		hex.EncodeToString(extranonce1),
		4,
	}, nil
}

func (s *Server) authorize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, bserr.New(bserr.KindInvalidArgument, "mining.authorize requires a worker name")
	}
	if pubkeyHex, ok := workerPubKeyHex(args[0]); ok {
		if _, err := parseWorkerPubKey(pubkeyHex); err != nil {
			return nil, bserr.New(bserr.KindInvalidArgument, "mining.authorize: invalid worker pubkey")
		}
	}
	return true, nil
}

// workerPubKeyHex splits a "pubkeyhex.workername" username, the
// convention some pools use to bind a worker to a specific payout
// identity, from a plain worker name. ok is false when username
// doesn't look like that convention at all, in which case it's taken
// at face value with no pubkey check.
func workerPubKeyHex(username string) (string, bool) {
	prefix, _, found := strings.Cut(username, ".")
	if !found {
		return "", false
	}
	switch len(prefix) {
	case 66, 130:
		return prefix, true
	default:
		return "", false
	}
}

// parseWorkerPubKey validates a worker identity's hex-encoded
// secp256k1 public key.
func parseWorkerPubKey(pubkeyHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw)
}

func (s *Server) submit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 5 {
		return nil, bserr.New(bserr.KindInvalidArgument, "mining.submit requires 5 arguments")
	}
	return true, nil
}

// PushJob sends a mining.notify notification to r with the given job.
func PushJob(r route.Route, job Job) error {
	notif := struct {
		ID     interface{}   `json:"id"`
		Method string        `json:"method"`
		Params []interface{} `json:"params"`
	}{
		ID:     nil,
		Method: "mining.notify",
		Params: []interface{}{
			job.JobID,
			hex.EncodeToString(job.PrevHash[:]),
			hex.EncodeToString(job.Coinbase1),
			hex.EncodeToString(job.Coinbase2),
			merkleBranchHex(job.MerkleBranch),
			job.Version,
			job.Bits,
			job.Time,
			job.CleanJobs,
		},
	}
	payload, err := json.Marshal(notif)
	if err != nil {
		return bserr.Wrap(bserr.KindServerError, err)
	}
	return r.Send(append(payload, '\n'))
}

// PushDifficulty sends a mining.set_difficulty notification to r.
func PushDifficulty(r route.Route, difficulty float64) error {
	notif := struct {
		ID     interface{}   `json:"id"`
		Method string        `json:"method"`
		Params []interface{} `json:"params"`
	}{
		ID:     nil,
		Method: "mining.set_difficulty",
		Params: []interface{}{difficulty},
	}
	payload, err := json.Marshal(notif)
	if err != nil {
		return bserr.Wrap(bserr.KindServerError, err)
	}
	return r.Send(append(payload, '\n'))
}

func merkleBranchHex(branch [][32]byte) []string {
	out := make([]string, len(branch))
	for i, b := range branch {
		out[i] = hex.EncodeToString(b[:])
	}
	return out
}
