// Package session is the gateway's connection-accepting layer: one
// Listener per configured endpoint, each running its own accept loop,
// TLS handshake (when configured), and admission control, handing
// every accepted connection to a protocol-specific handler on its own
// goroutine via a bounded handshake semaphore.
//
// The accept-loop shape follows lnd's server listener setup:
// net.Listen, a per-listener goroutine calling Accept in a loop,
// WaitGroup-tracked connection goroutines, and a quit channel checked
// around the Accept error path to distinguish a deliberate Stop from
// a real accept failure.
package session

import (
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/btcsuite/bsd/bserr"
	"github.com/btcsuite/bsd/channel"
	logpkg "github.com/btcsuite/bsd/log"
)

var log = logpkg.SubLogger(logpkg.SubsystemSession)

// State is the listener lifecycle.
type State int32

const (
	Stopped State = iota
	Starting
	Accepting
	Stopping
)

// Handler processes one accepted connection; it owns the connection's
// Channel for its entire lifetime and is responsible for closing it.
type Handler func(ch *channel.Channel)

// defaultMaxHandshakes bounds how many connections may be mid-accept
// (TLS handshake in progress) at once, so a slow-loris style client
// burst can't pin every acceptor goroutine.
const defaultMaxHandshakes = 64

// Listener runs one endpoint's accept loop.
type Listener struct {
	name    string
	ln      net.Listener
	tlsConf *tls.Config
	handler Handler

	// AllowedHosts restricts which Host/SNI a connection may present
	// during admission, when non-empty.
	AllowedHosts []string

	// MaxConnections bounds how many connections this listener will
	// hold open at once; zero means unbounded. A connection arriving
	// once the limit is already reached is refused admission rather
	// than queued.
	MaxConnections int

	// Limiter, when non-nil, admits new connections at a sustained
	// rate independent of MaxConnections, rejecting bursts beyond its
	// burst size outright rather than queuing them.
	Limiter *rate.Limiter

	state atomic.Int32
	sem   *semaphore.Weighted
	open  atomic.Int64
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New wraps ln (already bound) with handler. tlsConf may be nil for a
// plaintext endpoint.
func New(name string, ln net.Listener, tlsConf *tls.Config, handler Handler) *Listener {
	return &Listener{
		name:    name,
		ln:      ln,
		tlsConf: tlsConf,
		handler: handler,
		sem:     semaphore.NewWeighted(defaultMaxHandshakes),
		quit:    make(chan struct{}),
	}
}

// State returns the listener's current lifecycle state.
func (l *Listener) State() State { return State(l.state.Load()) }

// Start begins accepting connections in the background.
func (l *Listener) Start() {
	l.state.Store(int32(Starting))
	l.wg.Add(1)
	go l.acceptLoop()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	l.state.Store(int32(Accepting))
	log.Infof("%s: accepting connections on %s", l.name, l.ln.Addr())

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
				log.Errorf("%s: accept error: %v", l.name, err)
				return
			}
		}

		if l.Limiter != nil && !l.Limiter.Allow() {
			log.Debugf("%s: rejecting connection from %s: connection rate exceeded", l.name, conn.RemoteAddr())
			conn.Close()
			continue
		}

		if l.MaxConnections > 0 && l.open.Load() >= int64(l.MaxConnections) {
			log.Debugf("%s: rejecting connection from %s: pool_filled", l.name, conn.RemoteAddr())
			conn.Close()
			continue
		}

		if !l.sem.TryAcquire(1) {
			conn.Close()
			continue
		}

		l.open.Add(1)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			defer l.open.Add(-1)
			l.handleConn(conn)
		}()
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	if l.tlsConf != nil {
		tlsConn := tls.Server(conn, l.tlsConf)
		if err := tlsConn.Handshake(); err != nil {
			l.sem.Release(1)
			log.Debugf("%s: tls handshake failed from %s: %v", l.name, conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		conn = tlsConn
	}
	// The handshake slot is held only until the TLS handshake ends.
	l.sem.Release(1)

	if !l.hostAllowed(conn) {
		log.Debugf("%s: rejecting connection from %s: host not allowed", l.name, conn.RemoteAddr())
		conn.Close()
		return
	}

	ch := channel.NewRawTransport(conn)
	l.handler(channel.New(ch, nil))
}

func (l *Listener) hostAllowed(conn net.Conn) bool {
	if len(l.AllowedHosts) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	for _, h := range l.AllowedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// Stop closes the underlying listener and waits for every connection
// goroutine to return, Handler included. Stop does not close
// connections already accepted, so it returns only after each Handler
// has finished serving its connection.
func (l *Listener) Stop() error {
	if State(l.state.Swap(int32(Stopping))) == Stopped {
		return nil
	}
	close(l.quit)
	err := l.ln.Close()
	l.wg.Wait()
	l.state.Store(int32(Stopped))
	return err
}

// ErrAlreadyStopped is returned by operations on a Listener that has
// already fully stopped.
var ErrAlreadyStopped = bserr.New(bserr.KindServiceStopped, "listener already stopped")
