package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"talky-service/internal/ai"
	"talky-service/internal/auth"
	"talky-service/internal/config"
	"talky-service/internal/db"
	"talky-service/internal/handlers"
	"talky-service/internal/media"
	"talky-service/internal/middleware"
	"talky-service/internal/observability"
	"talky-service/internal/rabbitmq"
	"talky-service/internal/repositories"
	"talky-service/internal/services"
	"talky-service/internal/telemetry"
	"talky-service/internal/ws"
)

func main() {
	cfg := config.Load()

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.TracingEndpoint, cfg.TracingServiceID, cfg.TracingInsecure)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Printf("event publisher disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, "talky-service", cfg.Environment)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	hub := ws.NewHub()
	presence := ws.NewRegistry(hub)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	uploader := media.NewUploader(cfg.MediaUploadURL, cfg.MediaAPIKey)
	generator := ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)

	locks := services.NewChatLocker()
	bridge := services.NewAIBridge(userRepo, messageRepo, chatRepo, generator, hub, locks)
	pipeline := services.NewMessagePipeline(chatRepo, messageRepo, uploader, hub, presence, bridge, locks)

	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, userRepo, pipeline, hub, audit)
	wsHandler := ws.NewHandler(hub, presence, verifier, chatRepo)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.TracingServiceID))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.POST("/chats", authMiddleware, chatHandler.CreateChat)
	router.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetChatMessages)
	router.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.PostChatMessage)
	router.GET("/users", authMiddleware, chatHandler.ListUsers)

	router.GET("/ws", wsHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutesOn)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
