// Package log wires up the gateway's subsystem loggers. It follows the
// same shape as lnd's top-level log.go: a shared btclog.Backend writes
// to both stdout and a rotated log file, and every package that wants
// logging grabs its own tagged btclog.Logger from it.
package log

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, one per core component. Kept four characters wide so
// log lines line up the way lnd's do.
const (
	SubsystemSession  = "SESS"
	SubsystemChannel  = "CHAN"
	SubsystemBus      = "BUS "
	SubsystemNotify   = "NTFN"
	SubsystemFee      = "FEST"
	SubsystemDispatch = "DISP"
	SubsystemRest     = "REST"
	SubsystemWS       = "BWS "
	SubsystemBRPC     = "BRPC"
	SubsystemElectrum = "ELEC"
	SubsystemStratum  = "STRM"
	SubsystemConfig   = "CNFG"
)

var (
	backendLog = btclog.NewBackend(logWriter{})
	logRotator *rotator.Rotator

	subsystemLoggers = make(map[string]btclog.Logger)
)

// logWriter implements an io.Writer that outputs to both standard
// output and the log rotator, exactly as lnd's logWriter does.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// InitLogRotator initializes the logging rotator to write logs to
// logFile and create roll files in the same directory. It must be
// called before the log output will be written anywhere but stdout.
func InitLogRotator(logFile string, maxRolls int) error {
	r, err := rotator.New(logFile, 10*1024, false, maxRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// SubLogger returns the tagged logger for subsystem, creating it (at
// the default Info level) the first time it's requested.
func SubLogger(subsystem string) btclog.Logger {
	if l, ok := subsystemLoggers[subsystem]; ok {
		return l
	}
	l := backendLog.Logger(subsystem)
	l.SetLevel(btclog.LevelInfo)
	subsystemLoggers[subsystem] = l
	return l
}

// SetLevel sets the logging level for subsystem. An unrecognized
// subsystem or level is a silent no-op, matching lnd's setLogLevel.
func SetLevel(subsystem string, level string) {
	l, ok := subsystemLoggers[subsystem]
	if !ok {
		return
	}
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}
	l.SetLevel(lvl)
}

// SetLevelAll sets every known subsystem to level.
func SetLevelAll(level string) {
	for name := range subsystemLoggers {
		SetLevel(name, level)
	}
}
