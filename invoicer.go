package invoicer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/daemon"
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
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const (
	// startupTimeout bounds the initial call to the payment node.
	startupTimeout = 30 * time.Second

	// shutdownTimeout bounds the status server shutdown.
	shutdownTimeout = 5 * time.Second
)

// initLogging wires every subsystem logger to the console and the rotating
// log file and applies the configured debug levels. The returned writer must
// be closed on shutdown.
func initLogging(cfg *Config,
	interceptor signal.Interceptor) (*build.RotatingLogWriter, error) {

	logWriter := build.NewRotatingLogWriter()
	logMgr := build.NewSubLoggerManager(
		build.NewDefaultLogHandlers(cfg.Logging, logWriter)...,
	)
	SetupLoggers(logMgr, interceptor)

	if !cfg.Logging.File.Disable {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		err := logWriter.InitLogRotator(cfg.Logging.File, logFile)
		if err != nil {
			return nil, err
		}
	}

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, logMgr)
	if err != nil {
		_ = logWriter.Close()
		return nil, err
	}

	return logWriter, nil
}

// Main is the true entry point of the daemon. It connects to the payment
// node and the relays, routes notes until the interceptor signals shutdown
// and then stops every subsystem.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	logWriter, err := initLogging(cfg, interceptor)
	if err != nil {
		return fmt.Errorf("unable to initialize logging: %w", err)
	}
	defer logWriter.Close()

	keys := cfg.Keys()
	invcLog.Infof("Version: %s, network: %s", build.FullVersion(),
		cfg.Network)
	invcLog.Infof("Platform pubkey: %s", keys.PublicKey())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
	metrics := monitoring.NewMetrics(promReg)

	reg := registry.New(cfg.Admins...)
	promReg.MustRegister(monitoring.NewRegistryCollector(reg))

	store, err := journal.Open(
		filepath.Join(cfg.DataDir, journal.DefaultFileName),
		clock.NewDefaultClock(),
	)
	if err != nil {
		return fmt.Errorf("unable to open journal: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			invcLog.Errorf("Unable to close journal: %v", err)
		}
	}()

	node, err := lndclient.New(&lndclient.Config{
		Host:           cfg.Lnd.Address,
		MacaroonPath:   cfg.Lnd.MacaroonPath,
		TLSCertPath:    cfg.Lnd.TLSCertPath,
		MaxIdlePings:   cfg.Lnd.MaxIdlePings,
		PaymentTimeout: cfg.Lnd.PaymentTimeout,
		FeeLimit:       cfg.Lnd.FeeLimit,
	})
	if err != nil {
		return fmt.Errorf("unable to create node client: %w", err)
	}

	infoCtx, infoCancel := context.WithTimeout(ctx, startupTimeout)
	info, err := node.GetInfo(infoCtx)
	infoCancel()
	if err != nil {
		return fmt.Errorf("unable to reach payment node: %w", err)
	}
	invcLog.Infof("Connected to payment node %s (%s), synced=%v",
		info.Alias, info.IdentityPubkey, info.SyncedToChain)

	if cfg.TorSocks != "" {
		invcLog.Infof("Reaching relays through SOCKS proxy %s",
			cfg.TorSocks)
	}
	pool, err := relay.NewPool(&relay.Config{
		URLs:    cfg.Relays,
		Dialer:  relay.NewDialer(cfg.TorSocks),
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	engine, err := settlement.New(&settlement.Config{
		Node: node,
		Invoices: lnurl.NewClient(&lnurl.Config{
			Net: cfg.NetParams(),
		}),
		Registry:         reg,
		Broadcaster:      pool,
		Keys:             keys,
		CourierHubPubKey: cfg.Settlement.CourierHubPubKey,
		NetworkFee:       cfg.Settlement.NetworkFee,
		ServiceFee:       cfg.Settlement.ServiceFee,
		MaxReconnects:    cfg.Settlement.MaxReconnects,
		Journal:          store,
		Metrics:          metrics,
	})
	if err != nil {
		return err
	}
	defer engine.Stop()

	botCfg := &bot.Config{
		Keys:            keys,
		Registry:        reg,
		Engine:          engine,
		Broadcaster:     pool,
		PresignInterval: cfg.Uploads.Interval,
		PresignBurst:    cfg.Uploads.Burst,
		Metrics:         metrics,
	}
	if cfg.Uploads.APIKey != "" {
		signer, err := uploads.NewSigner(uploads.Config{
			APIKey: cfg.Uploads.APIKey,
			AppID:  cfg.Uploads.AppID,
			Region: cfg.Uploads.Region,
		})
		if err != nil {
			return err
		}
		botCfg.Uploads = signer
	} else {
		invcLog.Infof("No upload credentials, presign requests " +
			"are disabled")
	}

	router, err := bot.New(botCfg)
	if err != nil {
		return err
	}

	if cfg.HealthCheck.Attempts > 0 {
		monitor := healthcheck.NewMonitor(&healthcheck.Config{
			Checks: []*healthcheck.Observation{
				nodeHealthCheck(node, cfg.HealthCheck),
			},
			Shutdown: func(format string, params ...interface{}) {
				invcLog.Criticalf("Health check: "+format,
					params...)
			},
		})
		if err := monitor.Start(); err != nil {
			return fmt.Errorf("unable to start health monitor: %w",
				err)
		}
		defer func() {
			if err := monitor.Stop(); err != nil {
				invcLog.Warnf("Unable to stop health monitor: %v",
					err)
			}
		}()
	}

	if !cfg.Status.Disable {
		status := monitoring.NewServer(&monitoring.ServerConfig{
			Listen:   cfg.Status.Listen,
			Gatherer: promReg,
			Registry: reg,
			Journal:  store,
		})
		if err := status.Start(); err != nil {
			return fmt.Errorf("unable to start status server: %w",
				err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer stopCancel()

			if err := status.Stop(stopCtx); err != nil {
				invcLog.Warnf("Unable to stop status server: %v",
					err)
			}
		}()
	}

	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	// Our own config notes are part of the filters, so the admin
	// configuration is restored from the relays before new requests are
	// handled.
	subID, err := pool.Subscribe(router.Filters()...)
	if err != nil {
		return fmt.Errorf("unable to subscribe: %w", err)
	}
	defer pool.Unsubscribe(subID)

	invcLog.Infof("Listening on %d relays", len(cfg.Relays))
	sdNotify(daemon.SdNotifyReady)
	defer sdNotify(daemon.SdNotifyStopping)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Run(gctx, pool.Notes())
	})
	g.Go(func() error {
		select {
		case <-interceptor.ShutdownChannel():
			invcLog.Infof("Received shutdown request")
			cancel()
		case <-gctx.Done():
		}

		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		invcLog.Errorf("Router stopped: %v", err)
		return err
	}

	invcLog.Infof("Shutdown complete")

	return nil
}

// nodeHealthCheck observes the payment node with a getinfo call.
func nodeHealthCheck(node *lndclient.Client,
	cfg *HealthCheckConfig) *healthcheck.Observation {

	return healthcheck.NewObservation(
		"payment node",
		func() error {
			ctx, cancel := context.WithTimeout(
				context.Background(), cfg.Timeout,
			)
			defer cancel()

			_, err := node.GetInfo(ctx)

			return err
		},
		cfg.Interval, cfg.Timeout, cfg.Backoff, cfg.Attempts,
	)
}

// sdNotify reports a state change to systemd if it started the daemon.
func sdNotify(state string) {
	notified, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		invcLog.Warnf("Unable to notify systemd of %s: %v", state, err)

	case notified:
		invcLog.Debugf("Notified systemd: %s", state)
	}
}
