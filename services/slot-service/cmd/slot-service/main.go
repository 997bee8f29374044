package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotsync/libs/config"
	"github.com/md-rashed-zaman/slotsync/libs/db"
	"github.com/md-rashed-zaman/slotsync/libs/httpx"
	"github.com/md-rashed-zaman/slotsync/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotsync/libs/otel"
	"github.com/md-rashed-zaman/slotsync/libs/runtime"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/availability"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/consumer"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/events"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/external"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/handlers"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/inbox"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/occupancy"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/outbox"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/storage"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/syncjob"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	config.LoadDotEnv()
	cfg, err := loadSettings()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if cfg.DBAutoMigrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("migration failed", "err", err)
			panic(err)
		}
		logger.Info("migrations applied")
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}

	var (
		cache       availability.Cache = availability.NewMemoryCache(cfg.CacheTTL)
		rateLimitMW httpx.Middleware
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		cache = availability.NewRedisCache(rdb, cfg.CacheTTL)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		rateLimitMW = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "rl:slots").Middleware(logger, true)
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMinute, "redis_addr", addr)
	} else {
		rateLimitMW = httpx.NewRateLimiter(cfg.RateLimitPerMinute, 0).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMinute)
	}

	slotRepo := storage.NewSlotRepository(pool, logger)
	studioRepo := storage.NewStudioRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	reconciler := occupancy.NewReconciler(slotRepo, logger)
	availSvc := availability.NewService(slotRepo, studioRepo, cache, availability.Config{
		LookaheadDays: cfg.LookaheadDays,
		Threshold:     &cfg.threshold,
		PerBucket:     cfg.SlotsPerBucket,
	}, logger)

	deps := syncjob.Deps{
		Studios:      studioRepo,
		Slots:        slotRepo,
		Appointments: apptRepo,
		Reconciler:   reconciler,
		Events:       outboxRepo,
		Cache:        availSvc,
	}
	if cfg.BookingAPIBaseURL != "" {
		deps.Fetcher = external.NewClient(external.Config{
			BaseURL:      cfg.BookingAPIBaseURL,
			APIKey:       cfg.BookingAPIKey,
			APIKeyHeader: cfg.BookingAPIKeyHeader,
			Timeout:      cfg.BookingAPITimeout,
			MaxAttempts:  cfg.BookingAPIMaxAttempts,
		}, logger)
	} else {
		logger.Warn("booking api not configured, sync reconciles local appointments only")
	}
	job := syncjob.New(deps, syncjob.Config{
		WindowDays:   cfg.LookaheadDays,
		DefaultSlot:  time.Duration(cfg.DefaultSlotMinutes) * time.Minute,
		ReleaseFreed: cfg.ReleaseFreedSlots,
	}, logger)

	if cfg.SyncSchedule != "" {
		scheduler, err := syncjob.NewScheduler(job, cfg.SyncSchedule, logger)
		if err != nil {
			logger.Error("invalid SYNC_SCHEDULE", "err", err)
			panic(err)
		}
		go scheduler.Run(ctx)
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if len(kafkax.SplitBrokers(cfg.KafkaBrokers)) > 0 {
		apptHandler := events.NewAppointmentHandler(apptRepo, reconciler, availSvc, logger)
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topics:  cfg.AppointmentTopics,
		}, apptHandler.Handle)
		go eventConsumer.Run(ctx)
	} else {
		logger.Warn("appointment consumer disabled (no kafka brokers configured)")
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.NewSlotHandler(job, availSvc, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "slot-service")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
