package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"gatelist/internal/audit"
	"gatelist/internal/platform/config"
	"gatelist/internal/platform/httpserver"
	"gatelist/internal/platform/logger"
	"gatelist/internal/platform/middleware"
	"gatelist/internal/platform/postgres"
	platformredis "gatelist/internal/platform/redis"
	"gatelist/internal/whitelist/cache"
	"gatelist/internal/whitelist/handler"
	"gatelist/internal/whitelist/metrics"
	"gatelist/internal/whitelist/ports"
	"gatelist/internal/whitelist/queue"
	"gatelist/internal/whitelist/retry"
	"gatelist/internal/whitelist/service"
	"gatelist/internal/whitelist/store/entry"
	wsync "gatelist/internal/whitelist/sync"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	wcfg := config.Whitelist()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := entry.NewPostgres(db)

	var entryCache ports.EntryCache
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		entryCache = cache.NewRedis(redisClient.Client, cfg.Redis.EntryTTL, log)
		log.Info("using redis entry cache")
	} else {
		entryCache = cache.New()
	}

	// Audit events flow through a non-blocking inbox into the local store; when
	// Kafka is configured they stream out to the audit topic instead.
	auditStore := audit.NewInMemoryStore()
	inbox := make(chan audit.Event, 256)
	auditWorker := audit.NewWorker(auditStore, inbox)
	var publisher ports.AuditPublisher = audit.NewChannelPublisher(inbox)

	var kafkaPublisher *audit.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err = audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			log.Error("kafka producer setup failed", "error", err)
			os.Exit(1)
		}
		publisher = kafkaPublisher
		log.Info("audit events streaming to kafka", "topic", cfg.Kafka.AuditTopic)
	}

	mx := metrics.New()
	taskQueue := queue.New(queue.WithLogger(log))
	strategy := retry.New()

	manager, err := service.New(store, entryCache,
		service.WithLogger(log),
		service.WithMetrics(mx),
		service.WithAuditPublisher(publisher),
		service.WithScheduler(taskQueue),
		service.WithConfig(wcfg),
	)
	if err != nil {
		log.Error("manager setup failed", "error", err)
		os.Exit(1)
	}

	coordinator, err := wsync.New(manager, taskQueue, strategy,
		wsync.WithLogger(log),
		wsync.WithMetrics(mx),
		wsync.WithConfig(wcfg),
	)
	if err != nil {
		log.Error("coordinator setup failed", "error", err)
		os.Exit(1)
	}

	// Warm the cache eagerly; on failure reads fall through to the store and
	// populate lazily until the first successful reload.
	if err := manager.ReloadCache(ctx); err != nil {
		log.Warn("initial cache load failed, serving from store", "error", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RequestTime)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler.New(manager, taskQueue, log).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)
	log.Info("starting gatelist", "addr", cfg.Server.Addr, "gate_policy", wcfg.GatePolicy)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return auditWorker.Run(ctx)
	})
	g.Go(func() error {
		return coordinator.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if kafkaPublisher != nil {
			if err := kafkaPublisher.Close(shutdownCtx); err != nil {
				log.Warn("kafka producer close failed", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("gatelist stopped")
}
