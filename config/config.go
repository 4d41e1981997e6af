// Package config loads the gateway's configuration: an INI file plus
// command-line flags via jessevdk/go-flags, overlaid with BS_-prefixed
// environment variables (BS_NATIVE_REST_LISTEN overrides
// NativeREST.Listen, following lnd's own LND_ env-overlay convention but
// scoped to this gateway's own prefix).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/bsd/bserr"
)

const envPrefix = "BS_"

// EndpointConfig is one protocol listener's settings.
type EndpointConfig struct {
	Enabled        bool     `long:"enabled" description:"enable this listener"`
	Listen         string   `long:"listen" description:"host:port to listen on"`
	TLSCert        string   `long:"tlscert" description:"path to the TLS certificate"`
	TLSKey         string   `long:"tlskey" description:"path to the TLS private key"`
	CAFile         string   `long:"cafile" description:"path to a CA certificate used to verify client certs, if set"`
	AllowedHosts   []string `long:"allowedhost" description:"Host header this listener will accept (repeatable)"`
	AllowedOrigins []string `long:"allowedorigin" description:"Origin header this listener will accept (repeatable); unenforced when empty or when no Origin header is present"`
}

// Config is the gateway's full configuration surface.
type Config struct {
	ShowVersion  bool   `short:"V" long:"version" description:"display version and exit"`
	ShowSettings bool   `long:"settings" description:"print the effective configuration and exit"`
	InitChain    bool   `long:"initchain" description:"initialize the configured data directory and exit; refuses if non-empty"`
	ConfigFile   string `short:"C" long:"configfile" description:"path to configuration file"`
	DataDir     string `long:"datadir" description:"directory to store chain-adjacent data"`
	LogDir      string `long:"logdir" description:"directory to store log files"`
	LogLevel    string `long:"loglevel" description:"logging level for all subsystems"`
	MaxLogRolls int    `long:"maxlogfiles" description:"maximum rotated log files to keep"`

	NetworkMainnet bool `long:"mainnet" description:"use the main Bitcoin network"`
	NetworkTestnet bool `long:"testnet" description:"use the test Bitcoin network"`

	SubscriptionLimit            int `long:"subscriptionlimit" description:"maximum live subscriptions held by the notification engine"`
	SubscriptionExpirationMinutes int `long:"subscriptionexpirationminutes" description:"lease duration granted to a subscription before it must be renewed"`
	HeartbeatServiceSeconds      int `long:"heartbeatserviceseconds" description:"interval between liveness probes of the query facade"`
	PollingIntervalMilliseconds  int `long:"pollingintervalmilliseconds" description:"interval between polling sweeps where the backend offers no push notification"`

	MetricsListen string `long:"metricslisten" description:"host:port to serve Prometheus metrics on; empty disables the metrics endpoint"`

	MaxInboundConnections int     `long:"maxinboundconnections" description:"maximum concurrent inbound connections per listener"`
	ConnectionRatePerSec  float64 `long:"connectionratepersec" description:"sustained new-connection admission rate per listener, independent of the per-channel overflow mechanism"`

	NativeREST   EndpointConfig `group:"Native REST" namespace:"nativerest"`
	NativeWS     EndpointConfig `group:"Native WebSocket" namespace:"nativews"`
	BitcoindRPC  EndpointConfig `group:"bitcoind-compatible RPC" namespace:"bitcoindrpc"`
	BitcoindREST EndpointConfig `group:"bitcoind-compatible REST" namespace:"bitcoindrest"`
	Electrum     EndpointConfig `group:"Electrum" namespace:"electrum"`
	StratumV1    EndpointConfig `group:"Stratum V1" namespace:"stratumv1"`
	StratumV2    EndpointConfig `group:"Stratum V2" namespace:"stratumv2"`
}

// Default returns a Config with the gateway's baseline defaults, prior
// to any file/flag/env overlay.
func Default() *Config {
	return &Config{
		DataDir:                       defaultDataDir(),
		LogDir:                        defaultLogDir(),
		LogLevel:                      "info",
		MaxLogRolls:                   3,
		SubscriptionLimit:             65536,
		SubscriptionExpirationMinutes: 10,
		HeartbeatServiceSeconds:       30,
		PollingIntervalMilliseconds:  1000,
		MaxInboundConnections:        1024,
		ConnectionRatePerSec:         50,
		NativeREST:                   EndpointConfig{Enabled: true, Listen: "127.0.0.1:8332"},
		NativeWS:          EndpointConfig{Enabled: true, Listen: "127.0.0.1:8333"},
		BitcoindRPC:       EndpointConfig{Enabled: true, Listen: "127.0.0.1:8334"},
		BitcoindREST:      EndpointConfig{Enabled: false, Listen: "127.0.0.1:8335"},
		Electrum:          EndpointConfig{Enabled: false, Listen: "127.0.0.1:50001"},
		StratumV1:         EndpointConfig{Enabled: false, Listen: "127.0.0.1:3333"},
		StratumV2:         EndpointConfig{Enabled: false, Listen: "127.0.0.1:3336"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bsd"
	}
	return filepath.Join(home, ".bsd")
}

func defaultLogDir() string {
	return filepath.Join(defaultDataDir(), "logs")
}

// Load parses args (typically os.Args[1:]) against Default, reading
// ConfigFile first if it is set (there is no default path, and a set
// path that does not exist is skipped), then
// overlaying BS_-prefixed environment variables, then flags, matching
// the precedence order lowest-to-highest: defaults < file < env < flags.
func Load(args []string) (*Config, error) {
	cfg := Default()

	preParser := flags.NewParser(cfg, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, bserr.Wrap(bserr.KindInvalidArgument, err)
	}

	if cfg.ConfigFile != "" {
		if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil && !os.IsNotExist(err) {
			return nil, bserr.Wrap(bserr.KindInvalidArgument, err)
		}
	}

	applyEnvOverlay(cfg)

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, bserr.Wrap(bserr.KindInvalidArgument, err)
	}

	return cfg, nil
}

// applyEnvOverlay walks every environment variable whose name starts
// with BS_ (matched case-insensitively) and hands the upper-cased rest
// of the name to applyEnvVar, which recognizes a fixed set of keys
// (e.g. BS_SUBSCRIPTION_LIMIT, BS_NATIVE_REST_LISTEN); other names are
// ignored.
func applyEnvOverlay(cfg *Config) {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToUpper(parts[0])
		if !strings.HasPrefix(name, envPrefix) {
			continue
		}
		key := strings.TrimPrefix(name, envPrefix)
		applyEnvVar(cfg, key, parts[1])
	}
}

func applyEnvVar(cfg *Config, key, value string) {
	switch key {
	case "LOGLEVEL":
		cfg.LogLevel = value
	case "DATADIR":
		cfg.DataDir = value
	case "SUBSCRIPTION_LIMIT":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.SubscriptionLimit = n
		}
	case "SUBSCRIPTION_EXPIRATION_MINUTES":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.SubscriptionExpirationMinutes = n
		}
	case "HEARTBEAT_SERVICE_SECONDS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.HeartbeatServiceSeconds = n
		}
	case "POLLING_INTERVAL_MILLISECONDS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.PollingIntervalMilliseconds = n
		}
	case "MAX_INBOUND_CONNECTIONS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.MaxInboundConnections = n
		}
	case "CONNECTION_RATE_PER_SEC":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.ConnectionRatePerSec = f
		}
	case "NATIVE_REST_LISTEN":
		cfg.NativeREST.Listen = value
	case "NATIVE_WS_LISTEN":
		cfg.NativeWS.Listen = value
	case "BITCOIND_RPC_LISTEN":
		cfg.BitcoindRPC.Listen = value
	case "BITCOIND_REST_LISTEN":
		cfg.BitcoindREST.Listen = value
	case "ELECTRUM_LISTEN":
		cfg.Electrum.Listen = value
	case "STRATUMV1_LISTEN":
		cfg.StratumV1.Listen = value
	case "STRATUMV2_LISTEN":
		cfg.StratumV2.Listen = value
	}
}
