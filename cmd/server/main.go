package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/config"
	"github.com/islandtransit/bus-booking-backend/internal/database"
	"github.com/islandtransit/bus-booking-backend/internal/handlers"
	"github.com/islandtransit/bus-booking-backend/internal/middleware"
	"github.com/islandtransit/bus-booking-backend/internal/notify"
	"github.com/islandtransit/bus-booking-backend/internal/services"
	"github.com/islandtransit/bus-booking-backend/pkg/jwt"
	"github.com/islandtransit/bus-booking-backend/pkg/secure"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting IslandTransit Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize repositories
	txRunner := database.NewTxRunner(db)
	seatRepo := database.NewSeatRepository(db)
	tripRepo := database.NewTripRepository(db)
	orderRepo := database.NewOrderRepository(db)
	couponRepo := database.NewCouponRepository(db)
	paymentRepo := database.NewPaymentRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db, logger)

	// Initialize payment gateway
	gateway := services.NewPAYableService(&cfg.Payment, logger)
	if gateway.IsConfigured() {
		logger.Infof("PAYable gateway initialized in %s mode", gateway.GetEnvironment())
	} else {
		logger.Warn("PAYable gateway not configured, using placeholder payment URLs")
	}

	sealer, err := secure.NewSealer(cfg.Payment.SealKey)
	if err != nil {
		logger.Fatalf("Failed to initialize payload sealer: %v", err)
	}

	// Initialize best-effort publishers; both degrade to no-ops when the
	// backing infrastructure is absent.
	var notifier services.Notifier = notify.NopNotifier{}
	amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQP, logger)
	if err != nil {
		logger.WithError(err).Warn("AMQP unavailable, notifications disabled")
	} else {
		defer amqpNotifier.Close()
		notifier = amqpNotifier
		logger.Info("AMQP notifier initialized")
	}

	var realtime services.RealtimePublisher = notify.NopPublisher{}
	if redisClient := notify.NewRedisClient(cfg.Redis); redisClient != nil {
		defer redisClient.Close()
		realtime = notify.NewRedisPublisher(redisClient, logger)
		logger.Info("Redis realtime publisher initialized")
	} else {
		logger.Warn("Redis unavailable, realtime seat updates disabled")
	}

	// Initialize services
	logger.Info("Initializing services...")
	pricingService := services.NewPricingService(logger)
	couponService := services.NewCouponService(couponRepo, logger)
	bookingService := services.NewBookingService(
		txRunner, seatRepo, tripRepo, orderRepo, paymentRepo, auditRepo,
		pricingService, couponService, gateway, notifier, realtime,
		sealer, cfg.Booking, logger,
	)
	refundService := services.NewRefundService(
		txRunner, seatRepo, tripRepo, orderRepo, paymentRepo, auditRepo,
		couponService, gateway, notifier, realtime, logger,
	)
	tripService := services.NewTripService(
		txRunner, tripRepo, seatRepo, orderRepo, paymentRepo, auditRepo,
		couponService, gateway, notifier, realtime, logger,
	)

	jwtService := jwt.NewService(cfg.JWT.Secret, 24*time.Hour)

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	refundHandler := handlers.NewRefundHandler(refundService, logger)
	tripHandler := handlers.NewTripHandler(tripService, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthCheckHandler(db))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.OptionalIdentity(jwtService, logger))
	{
		v1.POST("/orders", bookingHandler.CreateOrder)
		v1.GET("/orders", bookingHandler.ListOrders)
		v1.GET("/orders/:id", bookingHandler.GetOrder)
		v1.GET("/orders/:id/payment", bookingHandler.GetOrderPayment)
		v1.POST("/orders/:id/refund", refundHandler.RefundTickets)
		v1.POST("/orders/:id/cancel", refundHandler.CancelTickets)
		v1.POST("/payments/webhook", bookingHandler.ConfirmPayment)
		v1.POST("/trips", tripHandler.CreateTrip)
		v1.GET("/trips/:id", tripHandler.GetTrip)
		v1.POST("/trips/:id/cancel", tripHandler.CancelTrip)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": latency.String(),
			"ip":      c.ClientIP(),
		})

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request completed")
		case c.Writer.Status() >= 400:
			entry.Warn("Request completed")
		default:
			entry.Info("Request completed")
		}
	}
}

// healthCheckHandler reports process and database health
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": version,
		})
	}
}
