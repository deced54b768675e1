package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turing-shop/turing-ledger/config"
	"github.com/turing-shop/turing-ledger/internal/application/command"
	"github.com/turing-shop/turing-ledger/internal/application/engine"
	"github.com/turing-shop/turing-ledger/internal/application/eventhandler"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/messaging"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/observability"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/persistence/redis"
	httpserver "github.com/turing-shop/turing-ledger/internal/interface/http"
	"github.com/turing-shop/turing-ledger/internal/interface/http/handlers"
	"github.com/turing-shop/turing-ledger/pkg/circuitbreaker"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("seed", "", "YAML or JSON fixture file applied to the store before serving")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger HTTP API",
	Long: `Start the ledger engine and serve the collaborator API, health probes
and Prometheus metrics. Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// eventBus is what the service needs from either bus implementation.
type eventBus interface {
	shared.EventBus
	Close() error
}

func runServe(cmd *cobra.Command, _ []string) error {
	seedPath, _ := cmd.Flags().GetString("seed")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" || version != "dev" {
		cfg.App.Version = version
	}

	log := setupSlog(cfg)
	ledgerLog := setupLedgerLogger(log)
	log.Info("starting ledgerd",
		"env", cfg.App.Environment,
		"store", cfg.Ledger.Store,
		"redis", !cfg.Redis.Disabled,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if seedPath != "" {
		if err := seedStore(ctx, store, seedPath, log); err != nil {
			return fmt.Errorf("failed to seed store: %w", err)
		}
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.SetTimeout(cfg.HTTP.HealthCheckTimeout)
	health.AddCheck("store", handlers.NewPingCheck(store))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально): кеш запросов и шина событий между инстансами
	// ─────────────────────────────────────────────────────────────────────────
	var (
		txCache *redis.TransactionCache
		bus     eventBus
		metrics *observability.LedgerMetrics
	)
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewLedgerMetrics(nil)
	}

	localBusConfig := messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		Logger:         log,
	}
	if metrics != nil {
		localBusConfig.Observer = metrics
	}

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		cache, err := redis.NewCache(redisConfig(cfg))
		if err != nil {
			// Кеш не обязателен: без Redis запросы идут напрямую в хранилище.
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
		} else {
			defer cache.Close()
			health.AddOptionalCheck("cache", handlers.NewPingCheck(cache))
			breaker := redis.NewCacheBreaker(circuitbreaker.WithOnStateChange(
				func(name string, from, to circuitbreaker.State) {
					log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
					if metrics != nil {
						metrics.ObserveBreakerTransition(name, from, to)
					}
				},
			))
			txCache = redis.NewTransactionCache(cache, cfg.Redis.CacheTTL, redis.WithBreaker(breaker))

			pubsub := redis.NewPubSub(cache)
			defer pubsub.Close()
			redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
				Client:         pubsub,
				ChannelName:    redis.EventsChannel,
				Logger:         log,
				LocalBusConfig: localBusConfig,
			})
			if err != nil {
				log.Warn("failed to start Redis event bus, using local bus", "error", err)
			} else {
				bus = redisBus
			}
			log.Info("Redis connection established", "addr", cfg.Redis.Host)
		}
	}
	if bus == nil {
		bus = messaging.NewInMemoryEventBus(localBusConfig)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	if txCache != nil {
		invalidator := eventhandler.NewInvalidateCacheHandler(txCache, log, 0)
		if err := invalidator.Register(bus); err != nil {
			return fmt.Errorf("failed to register cache invalidation: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ДВИЖОК
	// ─────────────────────────────────────────────────────────────────────────
	opts := command.Options{
		MaxAttempts:           cfg.Ledger.MaxAttempts,
		RetryInitialDelay:     cfg.Ledger.RetryBaseDelay,
		RetryMaxDelay:         cfg.Ledger.RetryMaxDelay,
		EnforceRewardGuard:    cfg.Ledger.RewardGuard,
		ReconcileOnDeactivate: cfg.Ledger.ReconcileOnDeactivate,
		Logger:                ledgerLog,
		Publisher:             bus,
	}

	if metrics != nil {
		opts.Recorder = metrics
	}

	engineCfg := engine.Config{Store: store, Commands: opts, Logger: ledgerLog}
	if txCache != nil {
		engineCfg.Cache = txCache
	}
	eng := engine.New(engineCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.RequestTimeout = cfg.HTTP.RequestTimeout
	httpConfig.APIKeys = cfg.HTTP.APIKeys
	if len(httpConfig.APIKeys) == 0 && cfg.IsProduction() {
		log.Warn("API key authentication is disabled in production")
	}
	httpConfig.Version = cfg.App.Version

	deps := httpserver.Dependencies{
		Ledger:        eng,
		Logger:        ledgerLog,
		HealthChecker: health,
	}
	if metrics != nil {
		deps.MetricsHandler = metrics.Handler()
	}
	server := httpserver.NewServer(httpConfig, deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	errCh := server.StartAsync()
	log.Info("ledgerd is running", "http_address", httpConfig.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("http server error", "error", err)
			runErr = err
		}
	case <-ctx.Done():
	}

	return errors.Join(runErr, shutdown(server, cfg.App.ShutdownTimeout, log))
}

func shutdown(server *httpserver.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("shutting down gracefully...", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("ledgerd stopped")
	return nil
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}
