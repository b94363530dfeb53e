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
	_ "time/tzdata"

	firebase "firebase.google.com/go/v4"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"haulpay/internal/app"
	"haulpay/internal/config"
	"haulpay/internal/events"
	"haulpay/internal/handler"
	"haulpay/internal/location"
	"haulpay/internal/logging"
	internalRedis "haulpay/internal/redis"
	"haulpay/internal/repository"
	firestorerepo "haulpay/internal/repository/firestore"
	"haulpay/internal/repository/postgres"
	"haulpay/internal/service"
)

// closer is released on shutdown, in reverse order of registration.
type closer struct {
	name string
	fn   func() error
}

func main() {
	// Load configuration.
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(); err != nil {
				logger.Warn("close failed", "resource", closers[i].name, "error", err)
			}
		}
	}()

	// Firebase backs Firestore storage and push notifications.
	var fbApp *firebase.App
	if cfg.Store == config.StoreFirestore || cfg.Firebase.PushEnabled {
		fbApp, err = app.NewFirebaseApp(ctx, cfg.Firebase)
		if err != nil {
			fatal(logger, "failed to initialize firebase", err)
		}
	}

	// Initialize repositories on the configured backend.
	var (
		tripRepo     repository.TripRepository
		settingsRepo repository.SettingsRepository
	)
	switch cfg.Store {
	case config.StoreFirestore:
		client, err := app.NewFirestoreClient(ctx, fbApp)
		if err != nil {
			fatal(logger, "failed to connect to firestore", err)
		}
		closers = append(closers, closer{"firestore", client.Close})
		tripRepo = firestorerepo.NewTripRepository(client)
		settingsRepo = firestorerepo.NewSettingsRepository(client)
		logger.Info("Connected to Firestore")

	case config.StorePostgres:
		db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			fatal(logger, "failed to connect to database", err)
		}
		closers = append(closers, closer{"postgres", db.Close})
		if cfg.Database.Migrate {
			err := postgres.WithTx(ctx, db, func(tx postgres.Querier) error {
				return postgres.Migrate(ctx, tx)
			})
			if err != nil {
				fatal(logger, "failed to migrate database", err)
			}
		}
		tripRepo = postgres.NewTripRepository(db)
		settingsRepo = postgres.NewSettingsRepository(app.NewSQLX(db))
		logger.Info("Connected to PostgreSQL")

	default:
		fatal(logger, "unknown store backend", errors.New(cfg.Store))
	}

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		fatal(logger, "failed to connect to redis", err)
	}
	closers = append(closers, closer{"redis", redisClient.Close})
	logger.Info("Connected to Redis")

	// Trip event publishers.
	var publishers events.Fanout
	if cfg.Kafka.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, closer{"kafka", kafkaPublisher.Close})
		publishers = append(publishers, kafkaPublisher)
		logger.Info("Kafka publishing enabled", "topic", cfg.Kafka.Topic)
	}
	if cfg.Firebase.PushEnabled {
		sender, err := events.NewFCMSender(ctx, fbApp)
		if err != nil {
			fatal(logger, "failed to initialize push notifications", err)
		}
		publishers = append(publishers, events.NewPushPublisher(sender, logger))
		logger.Info("Push notifications enabled")
	}

	// Wire dependencies.
	server, sessions := wireServer(tripRepo, settingsRepo, redisClient, publishers, nrApp, cfg, logger)

	// Start server in goroutine.
	go func() {
		logger.Info("Starting server", "port", cfg.Server.Port, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "server error", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Persist buffered segments so the next process resumes them.
	sessions.CloseAll(shutdownCtx)

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
	logger.Info("Server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	tripRepo repository.TripRepository,
	settingsRepo repository.SettingsRepository,
	redisClient *redis.Client,
	publisher service.Publisher,
	nrApp *newrelic.Application,
	cfg *config.Config,
	logger *slog.Logger,
) (*http.Server, *service.SessionManager) {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)
	snapshotStore := internalRedis.NewSnapshotStore(redisClient, cfg.Tracking.SnapshotTTL)

	// Location feed fed by device fixes.
	feed := location.NewFeed(locationStore, location.FeedConfig{
		FixTimeout: cfg.Tracking.FixTimeout,
		MaxFixAge:  cfg.Tracking.MaxFixAge,
		Logger:     logger,
	})

	// Initialize services.
	notificationService := service.NewNotificationService(publisher, logger)
	settingsService := service.NewSettingsService(settingsRepo, cacheStore, logger)
	statementService := service.NewStatementService()
	sessionManager := service.NewSessionManager(
		tripRepo,
		settingsService,
		feed,
		snapshotStore,
		lockStore,
		notificationService,
		service.SessionConfig{
			FlushInterval:    cfg.Tracking.FlushInterval,
			SnapshotInterval: cfg.Tracking.SnapshotInterval,
			IdleTimeout:      cfg.Tracking.SessionIdle,
			LockTTL:          cfg.Tracking.LockTTL,
			Logger:           logger,
		},
	)
	settingsService.AddListener(sessionManager.RefreshSettings)
	tripService := service.NewTripService(tripRepo, settingsService, sessionManager, snapshotStore, feed, statementService)

	// Initialize handlers.
	tripHandler := handler.NewTripHandler(tripService, sessionManager)
	loadHandler := handler.NewLoadHandler(sessionManager)
	locationHandler := handler.NewLocationHandler(feed, sessionManager, logger)
	settingsHandler := handler.NewSettingsHandler(settingsService, tripService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		TripHandler:     tripHandler,
		LoadHandler:     loadHandler,
		LocationHandler: locationHandler,
		SettingsHandler: settingsHandler,
		RedisClient:     redisClient,
		NewRelicApp:     nrApp,
		Logger:          logger,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, sessionManager
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
