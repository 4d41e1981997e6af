// Command bsd is the gateway daemon: it loads configuration, wires the
// shared core (query facade, fee estimator, event bus, notification
// engine) into a session.Gateway, attaches one session.Listener per
// configured protocol endpoint, and runs until interrupted.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/bsd/channel"
	"github.com/btcsuite/bsd/config"
	"github.com/btcsuite/bsd/interrupt"
	logpkg "github.com/btcsuite/bsd/log"
	"github.com/btcsuite/bsd/metrics"
	"github.com/btcsuite/bsd/protocol/bitcoindrest"
	"github.com/btcsuite/bsd/protocol/bitcoindrpc"
	"github.com/btcsuite/bsd/protocol/electrum"
	"github.com/btcsuite/bsd/protocol/nativerest"
	"github.com/btcsuite/bsd/protocol/nativews"
	"github.com/btcsuite/bsd/protocol/stratumv1"
	"github.com/btcsuite/bsd/protocol/stratumv2"
	"github.com/btcsuite/bsd/query"
	"github.com/btcsuite/bsd/session"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

var log = logpkg.SubLogger(logpkg.SubsystemConfig)

// Process exit codes.
const (
	exitSuccess          = 0
	exitInvalidParameter = 1
	exitNotStarted       = 2
	exitRuntimeFailure   = 3
)

// bsdMain is the true entry point; kept separate from main so deferred
// cleanup runs even when a startup step fails, returning the process
// exit code rather than calling os.Exit mid-stack.
func bsdMain() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			return exitSuccess
		}
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidParameter
	}

	if cfg.ShowVersion {
		fmt.Println("bsd version", version())
		return exitSuccess
	}
	if cfg.ShowSettings {
		printSettings(cfg)
		return exitSuccess
	}
	if cfg.InitChain {
		if err := initChain(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitInvalidParameter
		}
		return exitSuccess
	}

	if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "unable to create log directory: %v\n", err)
		return exitNotStarted
	}
	if err := logpkg.InitLogRotator(cfg.LogDir+"/bsd.log", cfg.MaxLogRolls); err != nil {
		fmt.Fprintf(os.Stderr, "unable to init log rotator: %v\n", err)
		return exitNotStarted
	}
	logpkg.SubLogger(logpkg.SubsystemSession)
	logpkg.SubLogger(logpkg.SubsystemChannel)
	logpkg.SubLogger(logpkg.SubsystemBus)
	logpkg.SubLogger(logpkg.SubsystemNotify)
	logpkg.SubLogger(logpkg.SubsystemFee)
	logpkg.SubLogger(logpkg.SubsystemDispatch)
	logpkg.SubLogger(logpkg.SubsystemRest)
	logpkg.SubLogger(logpkg.SubsystemWS)
	logpkg.SubLogger(logpkg.SubsystemBRPC)
	logpkg.SubLogger(logpkg.SubsystemElectrum)
	logpkg.SubLogger(logpkg.SubsystemStratum)
	logpkg.SetLevelAll(cfg.LogLevel)

	log.Infof("Version %s", version())

	interrupt.Listen()

	// TODO(bsd): wire the real chain/mempool-backed Facade once the
	// storage layer this gateway reads through is selected; Mock keeps
	// every protocol endpoint exercisable today.
	q := query.NewMock(nil)

	lease := time.Duration(cfg.SubscriptionExpirationMinutes) * time.Minute
	gw := session.NewGatewayWithLimits(q, cfg.SubscriptionLimit, lease)
	gw.HeartbeatInterval = time.Duration(cfg.HeartbeatServiceSeconds) * time.Second
	if cfg.NetworkTestnet {
		gw.ChainParams = &chaincfg.TestNet3Params
	}

	if err := attachListeners(gw, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitNotStarted
	}

	if err := gw.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "unable to start gateway: %v\n", err)
		return exitNotStarted
	}
	var stopErr error
	interrupt.AddHandler(func() {
		log.Infof("shutting down gateway")
		if err := gw.Stop(); err != nil {
			log.Errorf("error during shutdown: %v", err)
			stopErr = err
		}
	})

	log.Infof("bsd fully started")
	<-interrupt.ShutdownChannel()
	log.Infof("shutdown complete")
	if stopErr != nil {
		return exitRuntimeFailure
	}
	return exitSuccess
}

// initChain creates the configured data directory, refusing to touch
// one that already holds anything.
func initChain(cfg *config.Config) error {
	if entries, err := os.ReadDir(cfg.DataDir); err == nil && len(entries) > 0 {
		return fmt.Errorf("data directory %s is not empty", cfg.DataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("unable to create data directory: %w", err)
	}
	network := "mainnet"
	if cfg.NetworkTestnet {
		network = "testnet"
	}
	return os.WriteFile(cfg.DataDir+"/NETWORK", []byte(network+"\n"), 0o600)
}

// printSettings dumps the effective configuration after defaults,
// file, environment, and flag overlays.
func printSettings(cfg *config.Config) {
	fmt.Printf("datadir=%s\n", cfg.DataDir)
	fmt.Printf("logdir=%s\n", cfg.LogDir)
	fmt.Printf("loglevel=%s\n", cfg.LogLevel)
	fmt.Printf("subscriptionlimit=%d\n", cfg.SubscriptionLimit)
	fmt.Printf("subscriptionexpirationminutes=%d\n", cfg.SubscriptionExpirationMinutes)
	fmt.Printf("heartbeatserviceseconds=%d\n", cfg.HeartbeatServiceSeconds)
	fmt.Printf("pollingintervalmilliseconds=%d\n", cfg.PollingIntervalMilliseconds)
	for _, ep := range []struct {
		name string
		cfg  config.EndpointConfig
	}{
		{"nativerest", cfg.NativeREST},
		{"nativews", cfg.NativeWS},
		{"bitcoindrpc", cfg.BitcoindRPC},
		{"bitcoindrest", cfg.BitcoindREST},
		{"electrum", cfg.Electrum},
		{"stratumv1", cfg.StratumV1},
		{"stratumv2", cfg.StratumV2},
	} {
		fmt.Printf("%s.enabled=%t\n", ep.name, ep.cfg.Enabled)
		fmt.Printf("%s.listen=%s\n", ep.name, ep.cfg.Listen)
	}
}

// attachListeners binds every enabled endpoint and registers its
// session.Listener with gw. nativews is bound separately since it
// needs an http.Server-driven upgrade rather than a raw
// session.Listener accept loop.
func attachListeners(gw *session.Gateway, cfg *config.Config) error {
	bind := func(ep config.EndpointConfig, name string, handler session.Handler) error {
		if !ep.Enabled {
			return nil
		}
		ln, err := net.Listen("tcp", ep.Listen)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		l := session.New(name, ln, tlsConfigFor(ep), handler)
		l.AllowedHosts = ep.AllowedHosts
		l.MaxConnections = cfg.MaxInboundConnections
		if cfg.ConnectionRatePerSec > 0 {
			l.Limiter = rate.NewLimiter(rate.Limit(cfg.ConnectionRatePerSec), int(cfg.ConnectionRatePerSec)+1)
		}
		gw.AddListener(l)
		return nil
	}

	if err := bind(cfg.NativeREST, "nativerest", nativerest.New(gw.Query, gw.Estimator).HandleConnection); err != nil {
		return err
	}
	if err := bind(cfg.BitcoindRPC, "bitcoindrpc", bitcoindrpc.New(gw.Query, gw.Estimator).HandleConnection); err != nil {
		return err
	}
	if err := bind(cfg.BitcoindREST, "bitcoindrest", bitcoindrest.New(gw.Query).HandleConnection); err != nil {
		return err
	}
	if err := bind(cfg.Electrum, "electrum", electrum.New(gw.Query, gw.Estimator, gw.Notification).HandleConnection); err != nil {
		return err
	}
	stratum1 := stratumv1.New(gw.Notification)
	stratum1.Lease = time.Duration(cfg.SubscriptionExpirationMinutes) * time.Minute
	if err := bind(cfg.StratumV1, "stratumv1", stratum1.HandleConnection); err != nil {
		return err
	}
	if err := bind(cfg.StratumV2, "stratumv2", stratumv2.New().HandleConnection); err != nil {
		return err
	}

	if cfg.NativeWS.Enabled {
		if err := attachNativeWS(gw, cfg.NativeWS); err != nil {
			return err
		}
	}

	if cfg.MetricsListen != "" {
		if err := attachMetrics(cfg.MetricsListen); err != nil {
			return err
		}
	}

	return nil
}

// attachMetrics serves the gateway's Prometheus registry at /metrics.
func attachMetrics(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics: serve error: %v", err)
		}
	}()
	interrupt.AddHandler(func() {
		srv.Close()
	})
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// attachNativeWS runs its own http.Server, since a WebSocket endpoint
// needs the upgrade handshake net/http already implements rather than
// the session.Listener accept loop the other protocols use directly on
// a raw net.Conn.
func attachNativeWS(gw *session.Gateway, ep config.EndpointConfig) error {
	ln, err := net.Listen("tcp", ep.Listen)
	if err != nil {
		return fmt.Errorf("nativews: %w", err)
	}

	ws := nativews.New(gw.Query, gw.Estimator, gw.Notification)
	ws.AllowedOrigins = ep.AllowedOrigins

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go ws.HandleUpgrade(conn, r.Header.Get("Origin"), func(ch *channel.Channel) {
			log.Debugf("nativews: channel %d overflowed, draining", ch.ID())
		})
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("nativews: serve error: %v", err)
		}
	}()
	interrupt.AddHandler(func() {
		srv.Close()
	})
	return nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	os.Exit(bsdMain())
}
