// Package notification implements the gateway's subscription table:
// callers register interest in a (route, kind, selector) tuple with an
// expiry, and the engine matches incoming chain/mempool events against
// every live subscription, handing each match a wrapping per-
// subscription sequence number so a client can detect drops.
//
// Expiry and the periodic purge sweep are grounded on lnd's
// clock.Clock and ticker.Ticker abstractions, the same pair lnd uses
// for its own lease-style bookkeeping (invoice holds, channel leases),
// so the engine's tests can inject a mock clock instead of sleeping.
package notification

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/metrics"
	"github.com/btcsuite/bsd/route"
)

// Drop causes carried in the fixed-width code field of a notification
// payload: 0 means the event matched
// normally, any other value says why this is the subscription's last
// delivery.
const (
	CodeSuccess        uint32 = 0
	CodeChannelStopped uint32 = 1
	CodeChannelTimeout uint32 = 2
)

// Payload builds the binary-bus outbound notification shape from
// code(4) | sequence(1) | height(4) | block_hash(32) | tx.
// JSON-speaking protocols (electrum, native_ws) decode or re-derive the
// same fields into an object instead of shipping this wire form
// directly; Encode is what the native binary bus and stratum channels
// write as-is.
type Payload struct {
	Code      uint32
	Sequence  uint8
	Height    uint32
	BlockHash [32]byte
	Tx        []byte
}

// Encode serializes p into the fixed binary-bus frame.
func (p Payload) Encode() []byte {
	buf := make([]byte, 4+1+4+32+len(p.Tx))
	binary.BigEndian.PutUint32(buf[0:4], p.Code)
	buf[4] = p.Sequence
	binary.BigEndian.PutUint32(buf[5:9], p.Height)
	copy(buf[9:41], p.BlockHash[:])
	copy(buf[41:], p.Tx)
	return buf
}

// Kind discriminates what a Subscription watches for.
type Kind int

const (
	AddressPrefix Kind = iota
	ScriptHashStatus
	Header
	TxAccepted
	MiningJob
	PenetrationTrack
)

// Subscription is one entry in the engine's table.
type Subscription struct {
	ID       uint64
	Route    route.Route
	Kind     Kind
	Selector Selector
	Expiry   time.Time

	seq uint8 // wrapping per-subscription sequence, next value to hand out
}

// Match is a Subscription paired with the sequence number assigned to
// this particular delivery.
type Match struct {
	Sub *Subscription
	Seq uint8
}

// DefaultSubscriptionLimit bounds how many subscriptions the engine
// will hold at once, matching the gateway-wide per-process cap so one
// misbehaving or overeager client can't exhaust notification memory.
const DefaultSubscriptionLimit = 65536

// Engine is the subscription table. The zero value is not usable; use
// New.
type Engine struct {
	mu    sync.Mutex
	subs  map[uint64]*Subscription
	next  uint64
	limit int

	clock  clock.Clock
	sweep  ticker.Ticker
	quit   chan struct{}
	closed bool
}

// New returns an Engine with the default subscription limit, using the
// real wall clock and a 30-second purge sweep.
func New() *Engine {
	return NewWithClock(clock.NewDefaultClock(), 30*time.Second, DefaultSubscriptionLimit)
}

// NewWithClock returns an Engine using the supplied clock and sweep
// interval, for deterministic tests.
func NewWithClock(c clock.Clock, sweepInterval time.Duration, limit int) *Engine {
	sweep := ticker.New(sweepInterval)
	sweep.Resume()

	e := &Engine{
		subs:  make(map[uint64]*Subscription),
		limit: limit,
		clock: c,
		sweep: sweep,
		quit:  make(chan struct{}),
	}
	go e.sweepLoop()
	return e
}

func (e *Engine) sweepLoop() {
	for {
		select {
		case t := <-e.sweep.Ticks():
			e.Purge(t)
		case <-e.quit:
			return
		}
	}
}

// Close stops the purge sweep. Subsequent Subscribe/Unsubscribe calls
// still work; only automatic expiry sweeping stops.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.quit)
	e.sweep.Stop()
}

// Subscribe registers interest in kind/selector, replying through r,
// expiring at expiry. If an existing subscription already matches the
// tuple (same route, kind, and selector), it is renewed in place: its
// expiry is updated and its sequence counter resets to 0, rather than
// creating a second entry.
func (e *Engine) Subscribe(r route.Route, kind Kind, sel Selector, expiry time.Time) (*Subscription, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.subs {
		if s.Kind == kind && s.Selector.Equal(sel) && s.Route.Equal(r) {
			s.Expiry = expiry
			s.seq = 0
			return s, nil
		}
	}

	if len(e.subs) >= e.limit {
		return nil, bserr.New(bserr.KindPoolFilled, "subscription limit reached")
	}

	e.next++
	sub := &Subscription{
		ID:       e.next,
		Route:    r,
		Kind:     kind,
		Selector: sel,
		Expiry:   expiry,
	}
	e.subs[sub.ID] = sub
	metrics.ActiveSubscriptions.Set(float64(len(e.subs)))
	return sub, nil
}

// Renew extends the lease of the subscription keyed by (r, kind, sel)
// without resetting its sequence counter — the lease-refresh
// counterpart to a repeat Subscribe, which resets the sequence as
// well. Renewing an absent subscription (expired, unsubscribed, or
// never registered) is a no-op.
func (e *Engine) Renew(r route.Route, kind Kind, sel Selector, expiry time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.subs {
		if s.Kind == kind && s.Selector.Equal(sel) && s.Route.Equal(r) {
			s.Expiry = expiry
			return nil
		}
	}
	return nil
}

// Unsubscribe removes a subscription by ID, first delivering one final
// notification to its owner carrying CodeChannelStopped so the client
// can tell this subscription ended deliberately rather than by drop.
// Returns false if no such subscription exists (already expired or
// never registered).
func (e *Engine) Unsubscribe(id uint64) bool {
	e.mu.Lock()
	sub, ok := e.subs[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.subs, id)
	metrics.ActiveSubscriptions.Set(float64(len(e.subs)))
	e.mu.Unlock()

	_ = sub.Route.Send(Payload{Code: CodeChannelStopped, Sequence: sub.seq}.Encode())
	return true
}

// UnsubscribeRoute removes every subscription addressed to r, used
// when a channel closes and every route pointing at it goes stale. No
// final notification is sent: the route's channel is already gone, so
// Send would only fail.
func (e *Engine) UnsubscribeRoute(r route.Route) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, s := range e.subs {
		if s.Route.Equal(r) {
			delete(e.subs, id)
			n++
		}
	}
	metrics.ActiveSubscriptions.Set(float64(len(e.subs)))
	return n
}

// Purge removes every subscription whose expiry is at or before now,
// delivering one final CodeChannelTimeout notification to each before
// removal, and returns how many were removed.
func (e *Engine) Purge(now time.Time) int {
	e.mu.Lock()
	var expired []*Subscription
	for id, s := range e.subs {
		if !s.Expiry.After(now) {
			expired = append(expired, s)
			delete(e.subs, id)
		}
	}
	metrics.ActiveSubscriptions.Set(float64(len(e.subs)))
	e.mu.Unlock()

	for _, s := range expired {
		_ = s.Route.Send(Payload{Code: CodeChannelTimeout, Sequence: s.seq}.Encode())
	}
	return len(expired)
}

// Count returns the number of live subscriptions.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// OnEvent matches key against every live subscription of kind, handing
// each match its next wrapping sequence number.
func (e *Engine) OnEvent(kind Kind, key []byte) []Match {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matches []Match
	for _, s := range e.subs {
		if s.Kind != kind {
			continue
		}
		if !s.Selector.Match(key) {
			continue
		}
		seq := s.seq
		s.seq++ // wraps naturally at 256, uint8
		matches = append(matches, Match{Sub: s, Seq: seq})
	}
	return matches
}
