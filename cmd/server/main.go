package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/firemarket/escrow-engine/internal/api"
	"github.com/firemarket/escrow-engine/internal/audit"
	"github.com/firemarket/escrow-engine/internal/auth"
	"github.com/firemarket/escrow-engine/internal/config"
	"github.com/firemarket/escrow-engine/internal/escrow"
	"github.com/firemarket/escrow-engine/internal/events"
	"github.com/firemarket/escrow-engine/internal/ledger"
	"github.com/firemarket/escrow-engine/internal/logging"
	"github.com/firemarket/escrow-engine/internal/metrics"
	"github.com/firemarket/escrow-engine/internal/rates"
	"github.com/firemarket/escrow-engine/internal/rewards"
	"github.com/firemarket/escrow-engine/internal/store"
	"github.com/firemarket/escrow-engine/internal/telemetry"
	"github.com/firemarket/escrow-engine/internal/token"
)

const serviceName = "escrow-engine"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, closeLog := logging.New(serviceName, cfg.Log, cfg.Environment)
	slog.SetDefault(logger)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("escrow-engine stopped with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("escrow-engine stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracer shutdown", "err", err)
		}
	})

	// --- Initialize store ---
	var st store.Store
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if err := store.Migrate(cfg.Storage.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	case config.DriverLevelDB:
		ls, err := store.OpenLevelStore(cfg.Storage.LevelDBPath)
		if err != nil {
			return fmt.Errorf("open leveldb: %w", err)
		}
		cleanup = append(cleanup, func() { ls.Close() })
		st = ls
		slog.Info("opened LevelDB store", "path", cfg.Storage.LevelDBPath)
	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
		slog.Info("Redis cache enabled")
	}

	// --- Event fan-out ---
	hub := events.NewHub()
	go hub.Run(ctx)
	bus := events.NewBus(hub)
	if cfg.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(cfg.Events.NATSURL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		cleanup = append(cleanup, func() { sink.Close() })
		bus.Attach(sink)
	}
	if cfg.Events.AMQPURL != "" {
		sink, err := events.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		cleanup = append(cleanup, func() { sink.Close() })
		bus.Attach(sink)
	}
	st = store.NewNotifyingStore(st, bus)

	// --- Engines ---
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	l := ledger.New()
	dist := rewards.New(rewards.Config{
		ShareAsset:  cfg.Token.ShareAsset,
		RewardAsset: cfg.Token.RewardAsset,
		Pool:        config.PoolAccount,
		Owner:       cfg.Roles.Owner,
	}, l)
	book := rates.NewBook(cfg.Roles.Owner)
	tok := token.New(token.Config{
		ShareAsset:  cfg.Token.ShareAsset,
		RewardAsset: cfg.Token.RewardAsset,
		Treasury:    config.TreasuryAccount,
		Owner:       cfg.Roles.Owner,
	}, l, dist, book)
	market := escrow.New(escrow.Config{
		Owner:   cfg.Roles.Owner,
		Arbiter: cfg.Roles.Arbiter,
		Account: config.EscrowAccount,
	}, reg, l)

	err = api.Bootstrap(ctx, st, api.Genesis{
		Fees:            cfg.Token.Fees,
		DevWallet:       cfg.Token.DevWallet,
		MarketingWallet: cfg.Token.MarketingWallet,
		FeesWallet:      cfg.Token.FeesWallet,
		TradingEnabled:  cfg.Token.TradingEnabled,
		SystemAccounts:  config.SystemAccounts(),
		FeeExempt:       []string{cfg.Roles.Owner},
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// --- Auth ---
	var nonces auth.NonceStore = auth.NewMemoryNonces()
	if rdb != nil {
		nonces = auth.NewRedisNonces(rdb)
	}
	authSvc := auth.New(auth.Config{
		Secret:    cfg.Auth.Secret,
		Issuer:    cfg.Auth.Issuer,
		TokenTTL:  cfg.Auth.TokenTTL,
		NonceTTL:  cfg.Auth.NonceTTL,
		ClockSkew: cfg.Auth.ClockSkew,
		DevHeader: cfg.Auth.DevHeader,
	}, nonces)
	if !authSvc.Enabled() {
		slog.Warn("AUTH_SECRET not set, trusting X-Account header (development only)")
	}

	// --- Solvency audit ---
	auditor := audit.New(st, market, dist)
	if _, err := auditor.Run(ctx); err != nil {
		slog.Error("initial audit failed", "err", err)
	}
	if err := auditor.Start(ctx, cfg.Audit.Schedule); err != nil {
		return fmt.Errorf("schedule audit: %w", err)
	}
	defer auditor.Stop()

	svc := api.NewService(api.Deps{
		Store:   st,
		Assets:  reg,
		Ledger:  l,
		Market:  market,
		Rewards: dist,
		Token:   tok,
		Rates:   book,
		Auth:    authSvc,
		Auditor: auditor,
		Hub:     hub,
		Limiter: api.NewRateLimiter(cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst),
		Owner:   cfg.Roles.Owner,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"escrow-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc.Mount(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, serviceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("escrow-engine listening", "port", cfg.Server.Port, "store", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down escrow-engine...")
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return nil
}
