package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"boekuwzending-connect/internal/address"
	"boekuwzending-connect/internal/buz"
	"boekuwzending-connect/internal/config"
	"boekuwzending-connect/internal/events"
	"boekuwzending-connect/internal/handlers"
	"boekuwzending-connect/internal/hooks"
	"boekuwzending-connect/internal/jobs"
	"boekuwzending-connect/internal/middleware"
	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/notice"
	"boekuwzending-connect/internal/repository"
	"boekuwzending-connect/internal/services"
	"boekuwzending-connect/internal/settings"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting Boekuwzending integration service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	// Connect to database
	db, err := connectDatabase(cfg.GetDatabaseDSN())
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	log.Info("Database connected")

	// Run migrations
	if err := runMigrations(db); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}
	log.Info("Database migrations completed")

	// Initialize Redis client (optional - graceful degradation if Redis unavailable)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("Failed to parse Redis URL, continuing without caching")
		} else {
			redisClient = redis.NewClient(opt)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.WithError(err).Warn("Failed to connect to Redis, continuing without caching")
				redisClient = nil
			} else {
				log.Info("Connected to Redis for caching")
			}
			cancel()
		}
	} else {
		log.Info("REDIS_URL not configured, caching disabled")
	}

	// Initialize NATS events publisher (optional)
	var eventPublisher services.EventPublisher
	if cfg.NATSURL != "" {
		publisher, err := events.NewPublisher(cfg.NATSURL, log)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize events publisher, events won't be published")
		} else {
			defer publisher.Close()
			eventPublisher = publisher
			log.Info("NATS events publisher initialized")
		}
	} else {
		log.Info("NATS_URL not configured, event publishing disabled")
	}

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db, redisClient)
	settingsRepo := repository.NewSettingsRepository(db)
	noticeRepo := repository.NewNoticeRepository(db)

	// Initialize services
	resolver := settings.NewResolver(settingsRepo)
	parser := address.New()
	registry := hooks.NewRegistry()

	var mailer notice.Mailer
	if cfg.SMTP.Addr != "" {
		mailer = &notice.SMTPMailer{Addr: cfg.SMTP.Addr, From: cfg.SMTP.From}
		log.Info("Admin error mail enabled")
	}
	notifier := notice.NewNotifier(noticeRepo, mailer, log.WithField("component", "notice"))

	clientFactory := services.ClientFactory(func(clientID, clientSecret string, testMode bool) services.CarrierClient {
		return buz.NewClient(buz.ClientConfig{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TestMode:     testMode,
		})
	})

	orchestrator := services.NewShipmentOrchestrator(
		orderRepo,
		resolver,
		clientFactory,
		parser,
		registry,
		notifier,
		eventPublisher,
		log.WithField("component", "orchestrator"),
	)

	if cfg.DisableHMACValidation {
		log.Warn("Webhook signature validation is DISABLED")
	}
	webhookProcessor := services.NewWebhookProcessor(
		orderRepo,
		resolver,
		clientFactory,
		cfg.DisableHMACValidation,
		eventPublisher,
		log.WithField("component", "webhooks"),
	)

	// Initialize handlers
	orderHandler := handlers.NewOrderHandler(orderRepo, orchestrator)
	ratesHandler := handlers.NewRatesHandler(orchestrator)
	settingsHandler := handlers.NewSettingsHandler(settingsRepo, noticeRepo)
	webhookHandler := handlers.NewWebhookHandler(webhookProcessor, log)

	// Start the track-and-trace polling job
	statusPoller := jobs.NewStatusPoller(orderRepo, orchestrator, cfg.StatusPollSchedule, log)
	if err := statusPoller.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start status poller")
	}
	defer statusPoller.Stop()

	// Setup router
	router := setupRouter(orderHandler, ratesHandler, settingsHandler, webhookHandler, cfg, log)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Server.Env}).Info("Starting server")
	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}

// connectDatabase establishes a connection to the PostgreSQL database
func connectDatabase(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// runMigrations runs database migrations
func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Order{},
		&models.OrderLine{},
		&models.ShippingLine{},
		&models.OrderNote{},
		&models.IntegrationSettings{},
		&models.AdminNotice{},
	)
}

// setupRouter configures the Gin router with routes and middleware
func setupRouter(
	orderHandler *handlers.OrderHandler,
	ratesHandler *handlers.RatesHandler,
	settingsHandler *handlers.SettingsHandler,
	webhookHandler *handlers.WebhookHandler,
	cfg *config.Config,
	log *logrus.Logger,
) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS())
	router.Use(middleware.ErrorHandler(log))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy", "service": "boekuwzending-connect"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Orders - host order mirror and admin actions
		api.POST("/orders", orderHandler.CreateOrder)
		api.GET("/orders/:id", orderHandler.GetOrder)
		api.GET("/orders/:id/notes", orderHandler.GetNotes)
		api.POST("/orders/:id/shipments", orderHandler.CreateShipment)
		api.POST("/orders/:id/status", orderHandler.RetrieveStatus)
		api.GET("/orders/:id/labels", orderHandler.DownloadLabels)
		api.POST("/orders/:id/sync", orderHandler.SyncOrder)
		api.POST("/orders/:id/services", orderHandler.GetServices)
		api.PUT("/orders/:id/shipping-method", orderHandler.AttachShippingMethod)
		api.PUT("/orders/:id/pickup-point", orderHandler.SavePickupPoint)

		// Host lifecycle events
		api.POST("/orders/:id/events/status-changed", orderHandler.StatusChanged)
		api.POST("/orders/:id/events/paid", orderHandler.OrderPaid)

		// Shipments
		api.GET("/shipments/:id/labels", orderHandler.DownloadShipmentLabels)

		// Rates - checkout lookups
		api.POST("/rates", ratesHandler.GetRates)
		api.POST("/rates/delivery", ratesHandler.GetDeliveryRates)
		api.POST("/rates/pickup", ratesHandler.GetPickupRates)

		// Settings and notices
		api.GET("/settings", settingsHandler.GetSettings)
		api.PUT("/settings", settingsHandler.UpdateSettings)
		api.POST("/settings/test", settingsHandler.TestConnection)
		api.GET("/notices", settingsHandler.ListNotices)
		api.POST("/notices/:id/dismiss", settingsHandler.DismissNotice)
	}

	// Webhook routes (signed carrier callbacks, no auth middleware)
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/label-created", webhookHandler.HandleLabelEvent)
		webhooks.POST("/label-updated", webhookHandler.HandleLabelEvent)
	}

	return router
}
