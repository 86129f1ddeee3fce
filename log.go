package invoicer

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/fuentelabs/invoicer/bot"
	"github.com/fuentelabs/invoicer/build"
	"github.com/fuentelabs/invoicer/journal"
	"github.com/fuentelabs/invoicer/lndclient"
	"github.com/fuentelabs/invoicer/lnurl"
	"github.com/fuentelabs/invoicer/monitoring"
	"github.com/fuentelabs/invoicer/registry"
	"github.com/fuentelabs/invoicer/relay"
	"github.com/fuentelabs/invoicer/settlement"
	"github.com/fuentelabs/invoicer/signal"
	"github.com/fuentelabs/invoicer/uploads"
)

// Subsystem is the logging code of the daemon itself.
const Subsystem = "INVC"

// invcLog is the logger of the root package. It is replaced by SetupLoggers.
var invcLog = btclog.Disabled

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager,
	interceptor signal.Interceptor) {

	genLogger := genSubLogger(root, interceptor)

	invcLog = genLogger(Subsystem)
	root.RegisterSubLogger(Subsystem, invcLog)

	AddSubLogger(root, signal.Subsystem, interceptor, signal.UseLogger)
	AddSubLogger(root, relay.Subsystem, interceptor, relay.UseLogger)
	AddSubLogger(root, lndclient.Subsystem, interceptor,
		lndclient.UseLogger)
	AddSubLogger(root, lnurl.Subsystem, interceptor, lnurl.UseLogger)
	AddSubLogger(root, registry.Subsystem, interceptor, registry.UseLogger)
	AddSubLogger(root, settlement.Subsystem, interceptor,
		settlement.UseLogger)
	AddSubLogger(root, bot.Subsystem, interceptor, bot.UseLogger)
	AddSubLogger(root, uploads.Subsystem, interceptor, uploads.UseLogger)
	AddSubLogger(root, journal.Subsystem, interceptor, journal.UseLogger)
	AddSubLogger(root, monitoring.Subsystem, interceptor,
		monitoring.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	// genSubLogger will return a callback for creating a logger instance,
	// which we will give to the root logger.
	genLogger := genSubLogger(root, interceptor)

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := genLogger(subsystem)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system.
func SetSubLogger(root *build.SubLoggerManager, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// genSubLogger creates a logger for a subsystem whose critical log lines
// request a shutdown of the daemon.
func genSubLogger(root *build.SubLoggerManager,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	return func(subsystem string) btclog.Logger {
		return root.GenSubLogger(subsystem, interceptor.RequestShutdown)
	}
}
