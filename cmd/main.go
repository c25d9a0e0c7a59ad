package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/api"
	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/config"
	"github.com/fathima-sithara/messenger-service/internal/discovery"
	"github.com/fathima-sithara/messenger-service/internal/events"
	"github.com/fathima-sithara/messenger-service/internal/kafka"
	"github.com/fathima-sithara/messenger-service/internal/metrics"
	"github.com/fathima-sithara/messenger-service/internal/middleware"
	redisstore "github.com/fathima-sithara/messenger-service/internal/redis"
	"github.com/fathima-sithara/messenger-service/internal/repository"
	"github.com/fathima-sithara/messenger-service/internal/seed"
	"github.com/fathima-sithara/messenger-service/internal/service"
	"github.com/fathima-sithara/messenger-service/internal/utils"
	"github.com/fathima-sithara/messenger-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("MESSENGER_CONFIG", "config/config.yaml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.App.IsDevelopment())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	instanceID := cfg.App.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger = logger.With(zap.String("instance_id", instanceID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store      repository.Store
		closeStore = func(context.Context) error { return nil }
	)
	switch cfg.Storage.Driver {
	case "memory":
		store = repository.NewMemoryStore()
		logger.Warn("using in-memory storage; data is lost on restart")
	default:
		mc, err := repository.NewMongoClient(ctx, cfg.Mongo.URI, cfg.MongoTimeout)
		if err != nil {
			logger.Fatal("mongo init", zap.Error(err))
		}
		ms, err := repository.NewMongoStore(ctx, mc, cfg.Mongo.Database, cfg.Mongo.Transactions)
		if err != nil {
			logger.Fatal("mongo store init", zap.Error(err))
		}
		store, closeStore = ms, ms.Close
	}

	if cfg.Seed.UsersFile != "" {
		f, err := seed.Load(cfg.Seed.UsersFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("no seed file", zap.String("path", cfg.Seed.UsersFile))
		case err != nil:
			logger.Fatal("seed load", zap.Error(err))
		default:
			n, err := seed.Apply(ctx, store, f, logger.Named("seed"))
			if err != nil {
				logger.Fatal("seed apply", zap.Error(err))
			}
			logger.Info("seeded users", zap.Int("count", n))
		}
	}

	verifier, err := auth.NewVerifier(cfg.Auth.Algorithm, cfg.Auth.HSSecret, cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Fatal("jwt verifier init", zap.Error(err))
	}
	resolver := auth.NewSessionResolver(verifier, store, cfg.Auth.ProvisionUsers, logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(promReg)

	bus := events.NewBus(cfg.Bus.BufferSize, events.WithRecorder(met), events.WithLogger(logger))

	messenger := service.NewMessenger(store, bus, service.Options{
		SearchMatch:   repository.MatchMode(cfg.Search.Match),
		SearchLimit:   cfg.Search.Limit,
		MaxBodyLength: cfg.Messages.MaxBodyLength,
	}, logger)
	registry := service.NewRegistry(messenger)

	// background sinks stop with sinkCtx and are awaited by sinks
	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	var sinks sync.WaitGroup
	var closers []func() error

	wsOpts := []ws.Option{ws.WithMetrics(met)}
	deps := api.Deps{
		Registry:   registry,
		Resolver:   resolver,
		CookieName: cfg.Auth.CookieName,
		Metrics:    met,
		Gatherer:   promReg,
		AccessLog:  true,
		Log:        logger,
	}

	if cfg.Redis.Enabled {
		rdb, err := redisstore.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("redis init", zap.Error(err))
		}
		closers = append(closers, rdb.Close)

		deps.Limiter = middleware.NewRateLimiter(middleware.RedisCounter{Redis: rdb},
			cfg.Redis.Prefix, cfg.Redis.RateLimit, cfg.RateWindow, logger)

		presence := redisstore.NewPresenceStore(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		wsOpts = append(wsOpts, ws.WithPresence(presence))
		deps.Presence = presence

		if cfg.Redis.BridgeEnabled {
			bridge := redisstore.NewBridge(rdb, bus, cfg.Redis.Prefix, instanceID, logger)
			// subscribed before the listener starts so no early event is missed
			if err := bridge.Start(); err != nil {
				logger.Fatal("redis bridge start", zap.Error(err))
			}
			sinks.Add(1)
			go func() {
				defer sinks.Done()
				bridge.Run(sinkCtx)
			}()
		}
	}

	if cfg.Kafka.Enabled {
		mirror := kafka.NewMirror(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), bus, instanceID, met, logger)
		closers = append(closers, mirror.Close)
		if err := mirror.Start(); err != nil {
			logger.Fatal("kafka mirror start", zap.Error(err))
		}
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			mirror.Run(sinkCtx)
		}()
	}

	wsSrv := ws.NewServer(registry, resolver, ws.Config{
		CookieName:        cfg.Auth.CookieName,
		InitTimeout:       cfg.InitTimeout,
		PingInterval:      cfg.PingInterval,
		WriteDeadline:     cfg.WriteDeadline,
		MaxMessageSize:    cfg.WS.MaxMessageSizeBytes,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		Burst:             cfg.WS.Burst,
	}, logger, wsOpts...)
	deps.Subscriptions = wsSrv.Handler()

	app := api.NewServer(deps)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		logger.Info("starting messenger service", zap.String("addr", addr))
		errs <- app.Listen(addr)
	}()

	var registrar *discovery.Registrar
	if cfg.Consul.Enabled {
		registrar, err = discovery.NewRegistrar(cfg.Consul.Addr, logger)
		if err == nil {
			err = registrar.Register(ctx, discovery.Registration{
				ServiceName:   cfg.Consul.ServiceName,
				InstanceID:    instanceID,
				Host:          cfg.Consul.AdvertiseHost,
				Port:          cfg.App.Port,
				CheckInterval: cfg.ConsulCheck,
				Tags:          []string{"messenger", "graphql-transport-ws"},
			})
		}
		if err != nil {
			// the service still works when reached directly
			logger.Error("consul registration", zap.Error(err))
		}
	}

	select {
	case err := <-errs:
		logger.Error("server error", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if registrar != nil {
		if err := registrar.Deregister(shutdownCtx); err != nil {
			logger.Warn("consul deregister", zap.Error(err))
		}
	}
	if err := wsSrv.Close(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	bus.Close()
	cancelSinks()
	sinks.Wait()
	for _, c := range closers {
		if err := c(); err != nil {
			logger.Warn("close sink", zap.Error(err))
		}
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.Warn("store close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
