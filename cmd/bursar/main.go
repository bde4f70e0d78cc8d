package main

import (
	"context"
	"strings"

	"github.com/jordanlinford/ClubandCover-sub000/internal/handlers"
	"github.com/jordanlinford/ClubandCover-sub000/internal/mollie"
	"github.com/jordanlinford/ClubandCover-sub000/internal/payments"
	"github.com/jordanlinford/ClubandCover-sub000/internal/stripe"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/auth"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/config"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/database"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/kafka"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/monitoring"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/server"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("bursar")
	config.LoadEnv(logger)
	logger.SetLevel(config.GetLogLevel())

	databaseURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))

	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if config.GetEnvBool("BURSAR_AUTO_MIGRATE", true) {
		if err := database.ApplySchema(context.Background(), db, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
	}

	// Payment providers
	providers := make(map[string]payments.Provider)
	if stripeKey := config.GetEnv("STRIPE_SECRET_KEY", ""); stripeKey != "" {
		providers["stripe"] = stripe.NewClient(stripe.Config{
			SecretKey:     stripeKey,
			WebhookSecret: config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			Logger:        logger,
		})
		logger.Info("Stripe payment provider enabled")
	}
	if mollieKey := config.GetEnv("MOLLIE_API_KEY", ""); mollieKey != "" {
		mollieClient, err := mollie.NewClient(mollie.Config{
			APIKey:      mollieKey,
			RedirectURL: config.GetEnv("MOLLIE_REDIRECT_URL", ""),
			WebhookURL:  config.GetEnv("MOLLIE_WEBHOOK_URL", ""),
			Logger:      logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Mollie client")
		}
		providers["mollie"] = mollieClient
		logger.Info("Mollie payment provider enabled")
	}
	if len(providers) == 0 {
		logger.Warn("No payment providers configured; purchases are disabled")
	}

	// Kafka
	brokers := strings.Split(config.GetEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if config.GetEnvBool("KAFKA_ENABLED", true) {
		var err error
		producer, err = kafka.NewProducer(brokers, "bursar-producer",
			config.GetEnv("ECONOMY_KAFKA_TOPIC", "economy_events"), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()

		consumer, err = kafka.NewConsumer(brokers,
			config.GetEnv("KAFKA_GROUP_ID", "bursar"), "bursar-consumer", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka consumer")
		}
	} else {
		logger.Warn("Kafka disabled; economy events and engagement awards are off")
	}

	// Monitoring
	versionInfo := version.GetInfo()
	metricsCollector := monitoring.NewMetricsCollector("bursar", versionInfo.Version, versionInfo.GitCommit)
	dbQueries, dbDuration, dbConnections := metricsCollector.CreateDatabaseMetrics()

	bursarMetrics := &handlers.BursarMetrics{
		LedgerAppends: metricsCollector.NewCounter("ledger_appends_total", "Ledger entries appended", []string{"kind", "event_type"}),
		Purchases:     metricsCollector.NewCounter("purchases_total", "Credit purchase transitions", []string{"provider", "status"}),
		Promotions:    metricsCollector.NewCounter("promotions_total", "Promotion transitions", []string{"type", "status"}),
		Redemptions:   metricsCollector.NewCounter("redemptions_total", "Redemption transitions", []string{"status"}),
		DBQueries:     dbQueries,
		DBDuration:    dbDuration,
		DBConnections: dbConnections,
	}

	healthChecker := monitoring.NewHealthChecker("bursar", versionInfo.Version)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": databaseURL,
		"JWT_SECRET":   string(jwtSecret),
	}))
	if producer != nil {
		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.GetClient()))
	}

	handlers.Init(db, logger, bursarMetrics, producer, providers)

	jobs := handlers.NewJobManager(db, logger, consumer)
	jobs.Start()
	defer jobs.Stop()

	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// Public routes: provider webhooks and the package catalog.
	router.POST("/webhooks/stripe", handlers.StripeWebhook)
	router.POST("/webhooks/mollie", handlers.MollieWebhook)
	router.GET("/purchases/packages", handlers.GetPackages)

	// Authenticated routes
	api := router.Group("/")
	api.Use(auth.JWTAuthMiddleware(jwtSecret))
	{
		api.GET("/balance", handlers.GetBalance)
		api.GET("/ledger", handlers.GetLedger)

		api.POST("/purchases", handlers.InitiatePurchase)
		api.POST("/purchases/confirm", handlers.ConfirmPurchase)

		api.POST("/promotions/boosts", handlers.CreateBoost)
		api.POST("/promotions/sponsorships", handlers.CreateSponsorship)
		api.GET("/promotions", handlers.GetPromotions)
		api.POST("/promotions/:id/cancel", handlers.CancelPromotion)

		api.GET("/rewards", handlers.GetRewards)
		api.POST("/rewards/:id/redemptions", handlers.RequestRedemption)
		api.GET("/redemptions", handlers.GetRedemptions)
		api.POST("/redemptions/:id/cancel", handlers.CancelRedemption)

		api.GET("/badges", handlers.GetBadgeProgress)
	}

	// Admin routes
	admin := router.Group("/admin")
	admin.Use(auth.JWTAuthMiddleware(jwtSecret), auth.RequireRole("admin"))
	{
		admin.GET("/redemptions", handlers.ListRedemptions)
		admin.POST("/redemptions/:id/review", handlers.ReviewRedemption)
	}

	serverConfig := server.DefaultConfig("bursar", "18014")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
