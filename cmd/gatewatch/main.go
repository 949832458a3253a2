package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gatewatch/internal/config"
	"gatewatch/internal/coordinator"
	"gatewatch/internal/db"
	"gatewatch/internal/gateway"
	"gatewatch/internal/gateway/arp"
	"gatewatch/internal/gateway/rdns"
	"gatewatch/internal/gateway/snmp"
	"gatewatch/internal/httpapi"
	"gatewatch/internal/inventory"
	"gatewatch/internal/metrics"
	"gatewatch/internal/mqtt"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $GATEWATCH_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := httpapi.NewLogger("info", "")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := httpapi.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client := newGatewayClient(logger, cfg.Gateway)

	opts := coordinator.Options{
		UpdateInterval: cfg.ScanInterval,
		CycleTimeout:   cfg.CycleTimeout,
		SessionSettle:  cfg.SessionSettle,
		Retention:      cfg.Retention,
		Metrics:        m,
	}

	var store *db.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		if err := pool.Migrate(ctx, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}

		store = db.NewPoolStore(logger.With().Str("component", "store").Logger(), pool)
		initial, err := store.Load(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load persisted devices")
		}
		logger.Info().Int("devices", len(initial)).Msg("restored devices from database")
		opts.Initial = initial
		opts.Recorder = store
	}

	coord := coordinator.New(logger.With().Str("component", "coordinator").Logger(), client, opts)

	if store != nil {
		coord.AddListener(store.Listener())
	}

	if cfg.MQTT.Enabled {
		mc, err := mqtt.Connect(logger.With().Str("component", "mqtt").Logger(), mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mc.Close()

		presence := mqtt.NewPresence(logger.With().Str("component", "presence").Logger(), mc.Native(),
			cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS),
			inventory.Filter{Wireless: cfg.TrackWirelessClients, Wired: cfg.TrackWiredClients})
		coord.AddListener(presence.Listener())
	}

	var cycles httpapi.CycleStore
	if store != nil {
		cycles = store
	}
	h := httpapi.NewHandler(logger, coord, httpapi.Options{
		Store:        cycles,
		Metrics:      m,
		RefreshEvery: cfg.API.RefreshEvery,
		RebootEvery:  cfg.API.RebootEvery,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("gatewatch listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	go func() {
		if !setup(ctx, logger, coord.Setup, 5*time.Second) {
			stop()
			return
		}
		coord.Run(ctx)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func newGatewayClient(log zerolog.Logger, cfg config.Gateway) gateway.Client {
	var client gateway.Client
	switch cfg.Adapter {
	case config.AdapterARP:
		client = arp.NewClient(cfg.ARPPath).WithLeases(cfg.LeasesPath)
	default:
		client = snmp.NewClient(snmp.Config{
			Host:         cfg.Host,
			Port:         cfg.Port,
			Community:    cfg.Community,
			Version:      cfg.Version,
			Username:     cfg.Username,
			AuthPassword: cfg.Password,
			PrivPassword: cfg.PrivPassword,
			Timeout:      cfg.Timeout,
			Retries:      cfg.Retries,
		})
	}
	if cfg.ReverseDNS {
		client = rdns.Wrap(log.With().Str("component", "rdns").Logger(), client, cfg.DNSServer, 0)
	}
	return client
}

// setup retries the first cycle until it succeeds. It gives up, returning
// false, when the gateway rejects the credentials or ctx is cancelled.
// setup retries the setup cycle with backoff until it succeeds, ctx ends or
// the failure is one that waiting cannot clear.
func setup(ctx context.Context, log zerolog.Logger, run func(context.Context) (gateway.Info, error), base time.Duration) bool {
	for failures := 0; ; failures++ {
		_, err := run(ctx)
		if err == nil {
			return true
		}
		if msg, stop := giveUp(err); stop {
			log.Error().Err(err).Msg(msg)
			return false
		}

		wait := backoffDuration(base, failures)
		log.Warn().Err(err).Dur("retry_in", wait).Msg("gateway not ready")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// giveUp reports whether a setup failure needs an operator before another
// attempt can succeed.
func giveUp(err error) (string, bool) {
	var cerr *coordinator.CycleError
	if !errors.As(err, &cerr) || cerr.Kind.Retryable() {
		return "", false
	}
	if cerr.Kind.IsAuth() {
		return "gateway rejected the configured credentials; update them and restart", true
	}
	return "gateway adapter cannot serve this gateway; check the adapter settings and restart", true
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
