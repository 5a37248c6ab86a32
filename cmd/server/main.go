package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"contact.broker/config"
	"contact.broker/internal/api"
	"contact.broker/internal/auth"
	"contact.broker/internal/broker"
	"contact.broker/internal/crypto"
	"contact.broker/internal/events"
	"contact.broker/internal/logging"
	"contact.broker/internal/metrics"
	"contact.broker/internal/registry"
	"contact.broker/internal/store"
	"contact.broker/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logging.New("info", false)
		bootLog.Fatal().Err(err).Msg("config error")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

// run owns every resource it opens; all of them are closed before it returns.
func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := initStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := initRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer reg.Close()

	pub, err := initPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	b := broker.New(reg, st, broker.Config{
		RequestTTL:       cfg.Broker.RequestTTL,
		TokenTTL:         cfg.Broker.TokenTTL,
		MaxMessageLength: cfg.Broker.MaxMessageLength,
		MaxPayloadBytes:  cfg.Broker.MaxPayloadBytes,
	}, broker.WithLogger(log), broker.WithPublisher(pub), broker.WithMetrics(m))

	sw := sweeper.New(reg, st, sweeper.Config{
		Schedule:    cfg.Sweeper.Schedule,
		RevealGrace: cfg.Sweeper.RevealGrace,
		BatchSize:   cfg.Sweeper.BatchSize,
	}, sweeper.WithLogger(log), sweeper.WithPublisher(pub), sweeper.WithMetrics(m))
	if err := sw.Start(ctx); err != nil {
		return err
	}
	// Registered after the Close calls so it runs first.
	defer sw.Stop()

	deps := api.Dependencies{
		Broker:     b,
		Authorizer: auth.ClaimsAuthorizer{},
		Gatherer:   promReg,
		Logger:     log,
	}
	if cfg.Auth.Disabled {
		log.Warn().Msg("authentication disabled, every caller is trusted")
		deps.Authorizer = auth.AllowAll{}
	} else {
		deps.Auth = auth.NewService(cfg.Auth.JWTSecret)
	}
	router := api.SetupRouter(deps, cfg)

	log.Info().
		Str("addr", cfg.Addr()).
		Str("store", cfg.Store.Type).
		Str("registry", cfg.Registry.Driver).
		Bool("events", cfg.Events.Enabled).
		Msg("server starting")

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func initStore(cfg *config.Config) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Type {
	case "redis":
		rs, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		st = rs
	default:
		st = store.NewMemoryStore(30 * time.Second)
	}

	if cfg.Store.SealKey != "" {
		sealer, err := crypto.NewSealer(cfg.Store.SealKey)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("invalid seal key: %w", err)
		}
		st = store.NewSealedStore(st, sealer)
	}
	return st, nil
}

func initRegistry(ctx context.Context, cfg *config.Config) (registry.Registry, error) {
	if cfg.Registry.Driver == "memory" {
		return registry.NewMemoryRegistry(), nil
	}
	reg, err := registry.Open(ctx, cfg.Registry.Driver, cfg.Registry.DSN)
	if err != nil {
		return nil, fmt.Errorf("registry open failed (%s): %w", cfg.Registry.Driver, err)
	}
	return reg, nil
}

func initPublisher(cfg *config.Config) (events.Publisher, error) {
	if !cfg.Events.Enabled {
		return events.NopPublisher{}, nil
	}
	pub, err := events.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connection failed: %w", err)
	}
	return pub, nil
}
