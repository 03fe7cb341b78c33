package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"healthbridge-backend/internal/channel"
	"healthbridge-backend/internal/database"
	bridgeHandler "healthbridge-backend/internal/handler/http/bridge"
	consultHandler "healthbridge-backend/internal/handler/http/consult"
	wsHandler "healthbridge-backend/internal/handler/ws"
	"healthbridge-backend/internal/middleware"
	"healthbridge-backend/internal/repository/cassandra"
	"healthbridge-backend/internal/repository/cockroach"
	redisrepo "healthbridge-backend/internal/repository/redis"
	"healthbridge-backend/internal/service/attachment"
	"healthbridge-backend/internal/service/messaging"
	"healthbridge-backend/internal/service/notification"
	"healthbridge-backend/internal/service/presence"
	"healthbridge-backend/internal/service/registry"
	"healthbridge-backend/pkg/constants"
	"healthbridge-backend/pkg/env"
	"healthbridge-backend/pkg/jwt"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
	"healthbridge-backend/pkg/push"
)

func main() {
	logger.InitFromEnv()
	defer logger.Sync()

	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewManager(jwtSecret, constants.AccessTokenExpiry)

	// Cassandra holds the message log
	cassandraDB, err := database.NewCassandraDBFromEnv()
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("connected to Cassandra")

	database.InitRedisMetrics()

	// Redis carries pub/sub fan-out, connection presence and push tokens
	redisDB, err := database.NewRedisDBFromEnv()
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	go redisDB.StartHealthCheck(context.Background(), 10*time.Second)
	logger.Info("connected to Redis")

	// CockroachDB holds sessions and user accounts
	cockroachDB, err := database.NewDBFromEnv(context.Background())
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("connected to CockroachDB")

	// Repositories
	messageRepo := cassandra.NewMessageRepository(cassandraDB)
	sessionRepo := cockroach.NewSessionRepository(cockroachDB.Pool)
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	connectionRepo := redisrepo.NewPresenceRepository(redisDB)
	tokenRepo := redisrepo.NewDeviceTokenRepository(redisDB)

	// Event channel over Redis pub/sub
	broker := channel.NewBroker(channel.NewRedisTransport(redisDB.Client))

	// Push notifications
	pushProvider, err := push.NewProvider()
	if err != nil {
		logger.Fatal("failed to configure push provider", zap.Error(err))
	}
	pushSvc := push.NewService(pushProvider, tokenRepo)

	// Services
	notificationSvc := notification.NewService(connectionRepo, userRepo, pushSvc)
	messagingSvc := messaging.NewService(messageRepo, sessionRepo, broker, notificationSvc)
	presenceSvc := presence.NewService(sessionRepo, broker)
	registrySvc := registry.NewService(sessionRepo, userRepo)

	attachmentSvc, err := attachment.NewService(context.Background(), attachment.Config{
		Endpoint:   env.GetString("MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:  env.GetStringFromFile("MINIO_ACCESS_KEY", ""),
		SecretKey:  env.GetStringFromFile("MINIO_SECRET_KEY", ""),
		BucketName: env.GetString("MINIO_BUCKET", "consult-attachments"),
		UseSSL:     env.GetBool("MINIO_USE_SSL", false),
	}, sessionRepo)
	if err != nil {
		logger.Fatal("failed to initialize attachment storage", zap.Error(err))
	}

	// Metrics
	appMetrics := metrics.NewMetrics("consult-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// Handlers
	consultHdlr := consultHandler.NewHandler(registrySvc, messagingSvc, presenceSvc, attachmentSvc, pushSvc)
	bridgeToken := env.GetStringFromFile("BRIDGE_WEBHOOK_TOKEN", "")
	if bridgeToken == "" {
		logger.Fatal("BRIDGE_WEBHOOK_TOKEN environment variable is required")
	}
	bridgeHdlr := bridgeHandler.NewHandler(registrySvc, presenceSvc, bridgeToken)
	consultHub := wsHandler.NewConsultHub(registrySvc, messagingSvc, broker, connectionRepo, appMetrics)

	// Router
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())
	router.Use(middleware.NewTimeoutMiddleware(constants.DefaultTimeout).Middleware())
	router.Use(middleware.NewDBPoolLimiter(cockroachDB).Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "consult-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	// Bridge webhooks authenticate with a shared token, not a user JWT
	webhooks := router.Group("/v1")
	bridgeHdlr.RegisterRoutes(webhooks)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		consultHdlr.RegisterRoutes(v1)
		v1.GET("/ws", consultHub.ServeWS)
	}

	// Server
	port := env.GetString("PORT", "8084")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		logger.Info("consult service starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
