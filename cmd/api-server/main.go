package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/booking-engine/internal/api"
	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/cache"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logger"
	"github.com/hackgods/booking-engine/internal/notify"
	"github.com/hackgods/booking-engine/internal/outbox"
	redisclient "github.com/hackgods/booking-engine/internal/redis"
	"github.com/hackgods/booking-engine/internal/scheduling"
	"github.com/hackgods/booking-engine/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	lg.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreBackend),
		zap.String("lock", cfg.LockBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "booking-api",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			lg.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	var (
		checks []api.DependencyCheck
		store  appointment.Store
		memory *appointment.MemoryStore
	)

	switch cfg.StoreBackend {
	case "postgres":
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 0)
		cancelPg()
		if err != nil {
			return err
		}
		defer pgPool.Close()
		lg.Info("connected to Postgres")

		if cfg.MigrateOnStart {
			if err := db.Migrate(rootCtx, pgPool, lg); err != nil {
				return err
			}
		}

		store = appointment.NewPgRepository(pgPool)
		checks = append(checks, pgCheck(pgPool))
	default:
		memory = appointment.NewMemoryStore()
		loadDemoData(memory, lg)
		store = memory
		lg.Warn("using in-memory store, data is lost on restart")
	}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case "redis":
		rdb, err := redisclient.NewClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Warn("error closing redis", zap.Error(err))
			}
		}()
		lg.Info("connected to Redis")

		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		checks = append(checks, redisCheck(rdb))
	default:
		locker = redisclient.NewLocalLocker()
		lg.Warn("using process-local booking locks; run a single instance only")
	}

	engine := scheduling.NewEngine(store, cfg.SlotPolicy(), lg)
	svc := appointment.NewService(store, engine, locker, cfg, lg)
	if cfg.SlotCacheSize > 0 {
		svc.UseSlotCache(cache.NewSlotCache(engine, cfg.SlotCacheSize, cfg.SlotCacheTTL))
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: svc,
			Logger:  lg,
			Checks:  checks,
			Env:     cfg.Env,
			Version: version,
			Tracing: cfg.OTelEnabled,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		lg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		lg.Info("shutting down api-server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// With Postgres the outbox-worker drains events; the memory store has no
	// other reader, so relay in-process.
	if memory != nil {
		relay := outbox.NewRelay(memory, notify.NewLogNotifier(lg), notify.NewLogWebhookDispatcher(lg), lg, outbox.RelayConfig{
			Interval:  cfg.WorkerInterval,
			BatchSize: cfg.OutboxBatchSize,
		})
		g.Go(func() error {
			relay.Run(ctx)
			return nil
		})
	}

	return g.Wait()
}

func pgCheck(pool *pgxpool.Pool) api.DependencyCheck {
	return api.DependencyCheck{Name: "postgres", Critical: true, Ping: pool.Ping}
}

func redisCheck(rdb *redis.Client) api.DependencyCheck {
	return api.DependencyCheck{
		Name:     "redis",
		Critical: true,
		Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}
