package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"realtime-service/internal/auth"
	"realtime-service/internal/broker"
	"realtime-service/internal/config"
	"realtime-service/internal/db"
	"realtime-service/internal/handlers"
	"realtime-service/internal/middleware"
	"realtime-service/internal/notifications"
	"realtime-service/internal/observability"
	"realtime-service/internal/presence"
	"realtime-service/internal/rabbitmq"
	"realtime-service/internal/repositories"
	"realtime-service/internal/ws"
)

const serviceName = "realtime-service"

func main() {
	cfg := config.Load()
	if cfg.GinEnv != "" {
		gin.SetMode(cfg.GinEnv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	var msgBroker broker.Broker
	if cfg.RedisURL != "" {
		redisBroker, err := broker.NewRedisBroker(cfg.RedisURL, cfg.PublishRetryAttempts, cfg.PublishRetryMaxWait)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		msgBroker = redisBroker
		log.Println("room broker: redis")
	} else {
		msgBroker = broker.NewMemoryBroker()
		log.Println("room broker: in-memory, single instance only")
	}

	eventPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer eventPublisher.Close()
	log.Printf("notification publisher mode: %s", rabbitmq.PublisherMode(eventPublisher))
	if reason := rabbitmq.PublisherNoopReason(eventPublisher); reason != "" {
		log.Printf("notification publisher noop reason: %s", reason)
	}

	if cfg.AMQPURL != "" {
		lifecyclePublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("lifecycle events disabled: %v", err)
		} else {
			observability.SetPublisher(lifecyclePublisher)
			defer lifecyclePublisher.Close()
		}
	}

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	hub := ws.NewHub()
	tracker := presence.NewTracker(cfg.HeartbeatStaleness)

	sweeper := presence.NewSweeper(tracker, roomRepo, func(ctx context.Context, userID, username string, roomIDs []string) {
		ws.AnnounceOffline(ctx, msgBroker, userID, username, roomIDs)
	}, cfg.PresenceSweepEvery)
	go sweeper.Run(ctx)

	emitter := notifications.NewEmitter(msgBroker, roomRepo, eventPublisher, "notifications.push", serviceName, cfg.Environment)

	sessionCfg := ws.SessionConfig{
		IdleTimeout:  cfg.IdleReadTimeout,
		SendBuffer:   cfg.SendBufferSize,
		HistoryLimit: cfg.HistoryReplayLimit,
	}
	chatWS := ws.NewChatHandler(hub, roomRepo, messageRepo, verifier, msgBroker, tracker, emitter, sessionCfg)
	presenceWS := ws.NewPresenceHandler(hub, roomRepo, verifier, msgBroker, tracker, sessionCfg)

	roomHandler := handlers.NewRoomHandler(roomRepo, messageRepo, cfg.HistoryReplayLimit)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	router.GET("/rooms/:room_id/messages", authMiddleware, roomHandler.GetRoomMessages)

	router.GET("/ws/rooms/:room_id", chatWS.Handle)
	router.GET("/ws/presence", presenceWS.Handle)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugEndpoints)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	log.Println("shutting down")

	hub.CloseAll(websocket.CloseGoingAway, "server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := msgBroker.Close(); err != nil {
		log.Printf("broker close: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
