package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcsuite/bsd/eventbus"
	"github.com/btcsuite/bsd/feeestimator"
	"github.com/btcsuite/bsd/notification"
	"github.com/btcsuite/bsd/query"
)

// DefaultHeartbeatInterval is how often the gateway probes its query
// facade for liveness when HeartbeatInterval is left at zero.
const DefaultHeartbeatInterval = 30 * time.Second

// Gateway is the top-level object a binary constructs: it owns the
// shared core (query facade, fee estimator, event bus, notification
// engine) and every protocol Listener multiplexed on top of them.
type Gateway struct {
	Query        query.Facade
	Estimator    *feeestimator.Estimator
	Bus          *eventbus.Bus
	Notification *notification.Engine

	// HeartbeatInterval sets how often the query facade is probed for
	// liveness; zero means DefaultHeartbeatInterval. Set before Start.
	HeartbeatInterval time.Duration

	// ChainParams selects the network whose address encodings the
	// notification fan-out extracts against. Set before Start.
	ChainParams *chaincfg.Params

	// NotifyWitness selects whether notification payloads carry the
	// witness serialization of matched transactions.
	NotifyWitness bool

	listeners []*Listener

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGateway wires together a Gateway over an already-constructed
// query facade. The fee estimator, event bus, and notification engine
// are created fresh; callers add listeners with AddListener before
// calling Start.
func NewGateway(q query.Facade) *Gateway {
	return &Gateway{
		Query:         q,
		Estimator:     feeestimator.New(),
		Bus:           eventbus.New(),
		Notification:  notification.New(),
		ChainParams:   &chaincfg.MainNetParams,
		NotifyWitness: true,
	}
}

// maxSweepInterval caps the purge sweep at a 31-bit millisecond value,
// the widest interval the wire protocols advertise to clients.
const maxSweepInterval = time.Duration(1<<31-1) * time.Millisecond

// NewGatewayWithLimits is NewGateway with the notification engine's
// subscription cap and lease configured: the purge sweep runs at one
// tenth of the lease so an expired subscription lingers at most
// lease/10 past its expiry.
func NewGatewayWithLimits(q query.Facade, subLimit int, lease time.Duration) *Gateway {
	gw := NewGateway(q)
	gw.Notification.Close()

	sweep := lease / 10
	if sweep <= 0 {
		sweep = time.Minute
	}
	if sweep > maxSweepInterval {
		sweep = maxSweepInterval
	}
	gw.Notification = notification.NewWithClock(clock.NewDefaultClock(), sweep, subLimit)
	return gw
}

// AddListener registers l to be started/stopped along with the
// gateway. Must be called before Start.
func (g *Gateway) AddListener(l *Listener) {
	g.listeners = append(g.listeners, l)
}

// Start begins accepting connections on every registered listener and
// launches the internal event-bus consumer that feeds chain events
// into the fee estimator and notification engine.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	g.started = true

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	g.rehydrateEstimator(ctx.Done())

	_, events := g.Bus.Subscribe(0)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.consumeEvents(ctx, events)
	}()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.heartbeatLoop(ctx)
	}()

	for _, l := range g.listeners {
		l.Start()
	}
	return nil
}

// heartbeatLoop periodically probes the query facade for liveness,
// logging failures, for the gateway's entire lifetime. It creates its
// own lnd/ticker with ticker.New, so probes run on wall-clock time; no
// mock ticker can be injected.
func (g *Gateway) heartbeatLoop(ctx context.Context) {
	interval := g.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	t := ticker.New(interval)
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			if _, err := g.Query.GetTopConfirmed(); err != nil {
				log.Warnf("heartbeat: query facade probe failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// rehydrateEstimator replays the last HorizonLarge confirmed blocks'
// fee-rate sets into the estimator so Estimate answers sensibly
// immediately after a restart. Best-effort: a facade error or empty chain
// leaves the estimator at its zero state rather than failing Start.
func (g *Gateway) rehydrateEstimator(cancel <-chan struct{}) {
	top, err := g.Query.GetTopConfirmed()
	if err != nil {
		return
	}
	// query.Facade.GetBranchFees walks backward from start (newest
	// first); Initialize wants to Push oldest-first so decay behaves as
	// if replaying the real chain forward, so the adapter reverses.
	source := func(cancel <-chan struct{}, start, count uint32) ([]feeestimator.FeeSet, bool) {
		sets, ok := g.Query.GetBranchFees(cancel, start, count)
		if !ok {
			return nil, false
		}
		out := make([]feeestimator.FeeSet, len(sets))
		for i, s := range sets {
			out[len(sets)-1-i] = feeestimator.FeeSet{Height: s.Height, Rates: toFeeRates(s.Rates)}
		}
		return out, true
	}
	g.Estimator.Initialize(cancel, source, top, feeestimator.HorizonLarge)
}

// Stop signals shutdown to every listener and the event consumer, and
// waits for them to finish.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return nil
	}
	g.started = false

	for _, l := range g.listeners {
		_ = l.Stop()
	}

	g.Bus.Close()
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.Notification.Close()
	return nil
}

// StopAllListeners stops every registered listener concurrently,
// returning the first error encountered. Exposed separately from Stop
// for callers that want to drain connections before tearing down the
// shared core (e.g. a graceful restart that keeps the fee estimator
// warm).
func (g *Gateway) StopAllListeners() error {
	var eg errgroup.Group
	for _, l := range g.listeners {
		l := l
		eg.Go(func() error { return l.Stop() })
	}
	return eg.Wait()
}

// consumeEvents feeds block-connect/disconnect events from the bus
// into the fee estimator and fans out match notifications to the
// notification engine. It runs for the gateway's entire lifetime.
func (g *Gateway) consumeEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.handleEvent(ev)
			if ev.Kind == eventbus.Stop {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleEvent(ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.BlockConnected:
		link := query.Link{Height: ev.Height, Hash: toChainHash(ev.Hash)}
		if rates, ok := g.Query.GetBlockFees(link); ok {
			g.Estimator.Push(ev.Height, toFeeRates(rates))
		}
		g.fanOut(notification.Header, ev.Hash[:], ev.Height, ev.Hash, nil)
		g.fanOut(notification.MiningJob, ev.Hash[:], ev.Height, ev.Hash, nil)
		g.fanOutBlockTxs(link, ev.Height, ev.Hash)

	case eventbus.BlockDisconnected:
		link := query.Link{Height: ev.Height, Hash: toChainHash(ev.Hash)}
		if rates, ok := g.Query.GetBlockFees(link); ok {
			g.Estimator.Pop(ev.Height, toFeeRates(rates))
		}

	case eventbus.TxAccepted:
		g.fanOutMempoolTx(ev.TxHash)
	}
}

// fanOutBlockTxs walks a connected block's transactions and delivers
// one notification per matching extracted field occurrence: address
// subscriptions match each output (and resolvable input prevout) whose
// hash160 the selector prefixes, script-hash subscriptions match the
// sha256 of each output script, and penetration trackers match the tx
// hash itself now that the tracked transaction reached a block.
func (g *Gateway) fanOutBlockTxs(link query.Link, height uint32, blockHash [32]byte) {
	block, err := g.Query.GetBlock(link, true)
	if err != nil {
		log.Warnf("block fan-out: fetching block %d failed: %v", height, err)
		return
	}
	for _, tx := range block.Block.Transactions {
		raw := serializeNotifyTx(tx, g.NotifyWitness)
		keys := g.extractTxKeys(tx)
		for _, a := range keys.addresses {
			g.fanOut(notification.AddressPrefix, a, height, blockHash, raw)
		}
		for _, h := range keys.scriptHashes {
			g.fanOut(notification.ScriptHashStatus, h, height, blockHash, raw)
		}
		txHash := tx.TxHash()
		g.fanOut(notification.PenetrationTrack, txHash[:], height, blockHash, raw)
	}
}

// fanOutMempoolTx delivers mempool-acceptance notifications for one
// transaction: TxAccepted subscriptions match on the tx hash (an empty
// selector watches the whole mempool), and the address/script-hash
// kinds match exactly as they do for confirmed blocks, with height 0
// and a zero block hash marking the tx unconfirmed.
func (g *Gateway) fanOutMempoolTx(txHash [32]byte) {
	tx, err := g.Query.GetTransaction(toChainHash(txHash), false, g.NotifyWitness)
	if err != nil {
		g.fanOut(notification.TxAccepted, txHash[:], 0, [32]byte{}, nil)
		return
	}
	raw := serializeNotifyTx(tx.Tx, g.NotifyWitness)
	g.fanOut(notification.TxAccepted, txHash[:], 0, [32]byte{}, raw)
	g.fanOut(notification.PenetrationTrack, txHash[:], 0, [32]byte{}, raw)

	keys := g.extractTxKeys(tx.Tx)
	for _, a := range keys.addresses {
		g.fanOut(notification.AddressPrefix, a, 0, [32]byte{}, raw)
	}
	for _, h := range keys.scriptHashes {
		g.fanOut(notification.ScriptHashStatus, h, 0, [32]byte{}, raw)
	}
}

// fanOut matches key against every live subscription of kind and
// writes a binary-bus notification payload to each match's route,
// carrying the wrapping sequence the notification engine assigned it.
// Matching happens under the engine's lock (Engine.OnEvent), but the
// sends below run after that lock is released, one per target route,
// so no route's Send ever runs with the table locked.
func (g *Gateway) fanOut(kind notification.Kind, key []byte, height uint32, blockHash [32]byte, tx []byte) {
	matches := g.Notification.OnEvent(kind, key)
	for _, m := range matches {
		payload := notification.Payload{
			Code:      notification.CodeSuccess,
			Sequence:  m.Seq,
			Height:    height,
			BlockHash: blockHash,
			Tx:        tx,
		}
		if err := m.Sub.Route.Send(payload.Encode()); err != nil {
			// A send failure means the owning channel is gone or
			// overflowing; drop every subscription routed to it rather
			// than just this one, per the channel-close fan-out rule.
			g.Notification.UnsubscribeRoute(m.Sub.Route)
		}
	}
}

func toFeeRates(rates []query.TxFee) []feeestimator.TxFee {
	out := make([]feeestimator.TxFee, len(rates))
	for i, r := range rates {
		out[i] = feeestimator.TxFee{Bytes: r.Bytes, Fee: r.Fee}
	}
	return out
}

func toChainHash(b [32]byte) chainhash.Hash {
	return chainhash.Hash(b)
}
