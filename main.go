package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/ai"
	"messaging-service/internal/auth"
	"messaging-service/internal/blob"
	"messaging-service/internal/changefeed"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/logging"
	"messaging-service/internal/media"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/policy"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, serviceName, cfg.Environment, cfg.Tracing.OTLPEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("init tracer")
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("tracer shutdown")
			}
		}()
	}

	database, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer database.Close()

	var feed changefeed.Feed
	if cfg.AMQP.URL != "" {
		amqpFeed, err := changefeed.NewAMQPFeed(cfg.AMQP.URL, cfg.AMQP.FeedExchange, cfg.AMQP.FeedQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("connect changefeed")
		}
		feed = amqpFeed
	} else {
		log.Warn().Msg("amqp url empty, running with in-process changefeed")
		feed = changefeed.NewMemoryFeed()
	}
	defer feed.Close()

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.AuditExchange)
	defer auditPublisher.Close()
	log.Info().
		Str("mode", rabbitmq.PublisherMode(auditPublisher)).
		Str("reason", rabbitmq.PublisherNoopReason(auditPublisher)).
		Msg("audit publisher ready")
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.messaging", serviceName, cfg.Environment)

	blobStore, err := blob.NewMinioStore(ctx, cfg.Blob.Endpoint, cfg.Blob.AccessKey, cfg.Blob.SecretKey, cfg.Blob.Bucket, cfg.Blob.UseSSL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect blob store")
	}

	convRepo := repositories.NewConversationRepo(database)
	msgRepo := repositories.NewMessageRepo(database)
	receiptRepo := repositories.NewReceiptRepo(database)
	blobRepo := repositories.NewBlobRepo(database)

	verifier := auth.NewHTTPTokenVerifier(cfg.Identity.BaseURL, cfg.Identity.Timeout)
	sessionCtx := auth.NewSessionContext(auth.NewHTTPProfileLoader(cfg.Identity.BaseURL, cfg.Identity.Timeout))
	enforcer := policy.NewEnforcer(sessionCtx, nil)

	uploader := media.NewUploader(blobStore, blobRepo)
	aiClient := ai.NewClient(cfg.AI.BaseURL, cfg.AI.Timeout)

	hub := ws.NewHub(cfg.Hub.RingSize)
	go func() {
		if err := feed.Consume(ctx, hub.Forward); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("changefeed consumer stopped")
		}
	}()

	conversationHandler := handlers.NewConversationHandler(convRepo, receiptRepo, sessionCtx, feed, audit)
	messageHandler := handlers.NewMessageHandler(convRepo, msgRepo, receiptRepo, enforcer, feed)
	attachmentHandler := handlers.NewAttachmentHandler(uploader, aiClient)
	conversationWS := ws.NewConversationWebSocketHandler(hub, convRepo, verifier)

	if cfg.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(verifier, sessionCtx)

	router.POST("/conversations", authMiddleware, conversationHandler.CreateConversation)
	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.DELETE("/conversations/:conversation_id", authMiddleware, conversationHandler.DeleteConversation)
	router.POST("/conversations/:conversation_id/read", authMiddleware, conversationHandler.MarkRead)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.ListMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.SendMessage)
	router.GET("/conversations/:conversation_id/messages/:message_id/read", authMiddleware, messageHandler.MessageReadStatus)
	router.PATCH("/conversations/:conversation_id/messages/:message_id", authMiddleware, messageHandler.EditMessage)
	router.DELETE("/conversations/:conversation_id/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.POST("/attachments", authMiddleware, attachmentHandler.UploadAttachment)
	router.GET("/attachments/*key", authMiddleware, attachmentHandler.DownloadAttachment)
	router.POST("/transcriptions", authMiddleware, attachmentHandler.Transcribe)
	router.POST("/generations", authMiddleware, attachmentHandler.Generate)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
