package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"orderhub/internal/api"
	"orderhub/internal/buildinfo"
	"orderhub/internal/config"
	"orderhub/internal/events"
	"orderhub/internal/logging"
	"orderhub/internal/metrics"
	"orderhub/internal/ordersync"
	"orderhub/internal/providers"
	"orderhub/internal/store"
	"orderhub/internal/tracking"
	"orderhub/internal/webhooks"
)

func main() {
	path := flag.String("config", os.Getenv("ORDERHUB_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.Error("orderhub stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()
	info := buildinfo.Info()
	log.Info("starting orderhub", "version", info["version"], "commit", info["commit"])

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	var broker events.Broker
	switch {
	case cfg.Events.Broker == "redis" && rdb != nil:
		broker = events.NewRedisBrokerClient(rdb, cfg.Events.Buffer, log)
	default:
		broker = events.NewMemoryBroker(cfg.Events.Buffer)
	}
	defer broker.Close()

	sinkCtx, stopSinks := context.WithCancel(context.Background())
	fwd := events.NewForwarder(broker, log)
	fwd.Attach(sinkCtx, webhooks.NewPublisher(st, log))
	var closers []io.Closer
	if k := cfg.Events.Kafka; len(k.Brokers) > 0 {
		sink, err := events.NewKafkaSink(k.Brokers, k.Topic)
		if err != nil {
			stopSinks()
			return fmt.Errorf("kafka sink: %w", err)
		}
		closers = append(closers, sink)
		fwd.Attach(sinkCtx, sink)
	}
	if m := cfg.Events.MQTT; m.Broker != "" {
		sink, err := events.NewMQTTSink(m.Broker, m.ClientID, m.TopicPrefix)
		if err != nil {
			stopSinks()
			return fmt.Errorf("mqtt sink: %w", err)
		}
		closers = append(closers, sink)
		fwd.Attach(sinkCtx, sink)
	}

	var guard ordersync.Guard = ordersync.NewMemoryGuard()
	if rdb != nil {
		guard = ordersync.NewRedisGuard(rdb, cfg.Redis.LockTTL)
	}

	reg := providers.Default(cfg, log)
	coord := ordersync.New(reg, st, guard, broker, cfg.Sync, log)
	hub, err := tracking.NewHub(cfg.Tracking, tracking.StoreAuthorizer{Orders: st}, st, reg, broker, log)
	if err != nil {
		stopSinks()
		return err
	}
	srv := api.NewServer(cfg, st, reg, coord, hub, log)

	go hub.Run(ctx)
	go webhooks.NewWorker(st, cfg.Webhooks, log).Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Server.Addr, "providers", reg.ListSupported(), "store", cfg.Database.Driver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		if err != nil {
			stopSinks()
			hub.Close()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = httpSrv.Shutdown(shutdownCtx)
	hub.Close()
	stopSinks()
	fwd.Wait()
	for _, c := range closers {
		if cerr := c.Close(); cerr != nil {
			log.Warn("sink close failed", "err", cerr)
		}
	}
	return err
}
