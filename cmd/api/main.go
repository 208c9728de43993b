package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/awsutil"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/cache"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/config"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/device"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/health"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/httpapi"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/ingest"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/logging"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/observability"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/queue"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/ratelimit"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/scheduler"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/store/pg"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init("dispatch", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.Register(prometheus.DefaultRegisterer)

	bridge := &device.BridgeClient{
		BaseURL: cfg.BridgeBaseURL,
		APIKey:  cfg.BridgeAPIKey,
		HTTP:    &http.Client{Timeout: time.Duration(cfg.BridgeTimeoutMs) * time.Millisecond},
		Limiter: rate.NewLimiter(rate.Limit(cfg.BridgeRPS), cfg.BridgeBurst),
	}

	tuning := health.DefaultTuning()
	tuning.WarmupPeriod = time.Duration(cfg.WarmupDays) * 24 * time.Hour
	tuning.CriticalHourlyCap = cfg.CriticalHourlyCap
	monitor := health.NewMonitor(tuning)

	limiter := ratelimit.New()
	q := queue.New()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bridge",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	dispatcher := queue.NewDispatcher(q, monitor, limiter, bridge, cfg.QueueConfig())
	dispatcher.Breaker = cb

	readyChecks := []httpapi.ReadyzCheck{{Name: "bridge", Check: device.ReadyCheck(bridge)}}

	// optional durable audit ledger
	if cfg.DBDSN != "" {
		pool, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			slog.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		dispatcher.Audit = pg.New(pool)
		readyChecks = append(readyChecks, httpapi.ReadyzCheck{Name: "postgres", Check: pool.Ping})
		slog.Info("audit ledger enabled")
	}

	// optional redis snapshot cache
	var healthCache *cache.HealthCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		healthCache = cache.NewHealthCache(rdb, time.Duration(cfg.RedisSnapshotTTLs)*time.Second)
		readyChecks = append(readyChecks, httpapi.ReadyzCheck{
			Name:  "redis",
			Check: func(c context.Context) error { return rdb.Ping(c).Err() },
		})
		slog.Info("health snapshot cache enabled", "addr", cfg.RedisAddr)
	}

	// dispatch loop
	dispatchLoop, err := scheduler.New("dispatch", time.Duration(cfg.TickIntervalMs)*time.Millisecond, dispatcher.Tick)
	if err != nil {
		slog.Error("dispatch loop init failed", "err", err)
		os.Exit(1)
	}
	go func() { _ = dispatchLoop.Run(ctx) }()

	// health recompute + snapshot publication
	recomputeLoop, err := scheduler.New("health-recompute", time.Duration(cfg.HealthRecomputeSecs)*time.Second, func(c context.Context) {
		monitor.Recompute()
		if healthCache != nil {
			if err := healthCache.PublishAll(c, monitor.All()); err != nil {
				slog.Error("health snapshot publish failed", "err", err)
			}
		}
	})
	if err != nil {
		slog.Error("recompute loop init failed", "err", err)
		os.Exit(1)
	}
	go func() { _ = recomputeLoop.Run(ctx) }()

	// optional SQS ingestion
	if cfg.SQSQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("sqs client init failed", "err", err)
			os.Exit(1)
		}
		consumer := &ingest.Consumer{
			SQS:               sqsClient,
			QueueURL:          cfg.SQSQueueURL,
			Target:            dispatcher,
			WaitTimeSeconds:   cfg.SQSWaitTime,
			MaxMessages:       cfg.SQSMaxMsgs,
			VisibilityTimeout: cfg.SQSVizTimeout,
		}
		go func() {
			slog.Info("sqs ingestion started", "queue_url", cfg.SQSQueueURL)
			if err := consumer.Poll(ctx); err != nil && err != context.Canceled {
				slog.Error("sqs ingestion stopped", "err", err)
			}
		}()
	}

	s := httpapi.New()
	api := &httpapi.API{Dispatcher: dispatcher, Health: monitor}
	api.Register(s.Router)
	s.Router.HandleFunc("/healthz", httpapi.Healthz())
	s.Router.HandleFunc("/readyz", httpapi.Readyz(2*time.Second, readyChecks...))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Router,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}

	// in-flight sends run to completion before exit
	dispatcher.Drain()
}
