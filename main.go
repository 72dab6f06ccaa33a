package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashik1291/customer-support-live-chat-system/global"
	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/middleware"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/handler"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/service"
	wsgateway "github.com/ashik1291/customer-support-live-chat-system/service/chat"
	kafkasink "github.com/ashik1291/customer-support-live-chat-system/service/dispatcher/kafka"
	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	storageredis "github.com/ashik1291/customer-support-live-chat-system/service/storage/redis"
	"github.com/ashik1291/customer-support-live-chat-system/tools/ids"
)

func main() {
	cfg, err := global.Load()
	if err != nil {
		logger.Errorf("[main] config load failed: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.Server.NodeID)

	manager, err := storageredis.New(storageredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.Errorf("[main] redis connect failed: %v", err)
		os.Exit(1)
	}
	defer func() { _ = manager.Close() }()
	rdb := manager.Client()

	keys := storage.NewKeys(cfg.Redis.KeyPrefix)
	locks := storage.NewLockManager(rdb, keys, cfg.Redis.LockWait, cfg.Redis.LockLease)
	repo := storage.NewRedisConversationRepository(rdb, keys, cfg.Redis.ConversationTTL)
	topic := storage.NewQueueTopic(rdb, keys)

	// the broker sink is optional, a deployment without Kafka still runs
	var sink service.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkasink.NewProducer(cfg.Kafka)
		if err != nil {
			logger.Errorf("[main] kafka connect failed: %v", err)
			os.Exit(1)
		}
		ks := kafkasink.NewSink(producer, cfg.Kafka.LifecycleTopic, cfg.Kafka.MessageTopic)
		defer func() { _ = ks.Close() }()
		sink = ks
	}

	notifier := service.NewEventNotifier(sink)
	hub := wsgateway.NewHub()
	notifier.AddLifecycleListener(hub)
	notifier.AddMessageListener(hub)

	queue := service.NewAgentQueue(rdb, keys, locks, topic, cfg.Queue.BroadcastLimit)
	ledger := service.NewAssignmentLedger(rdb, keys, cfg.Queue.MaxConcurrentByAgent)
	presence := service.NewPresenceTracker(rdb, keys, cfg.Redis.PresenceTTL)
	coordinator := service.NewCoordinator(repo, queue, ledger, locks, notifier, presence, cfg.Conversation.MaxDuration)

	housekeeper := service.NewHousekeeper(coordinator, queue, ledger, repo, locks, service.HousekeeperConfig{
		Interval:          cfg.Housekeeping.Interval,
		QueueEntryTTL:     cfg.Queue.EntryTTL,
		InactivityTimeout: cfg.Conversation.InactivityTimeout,
		MaxDuration:       cfg.Conversation.MaxDuration,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	housekeeper.Start(ctx)
	defer housekeeper.Stop()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	if cfg.Security.RateLimitEnabled {
		r.Use(middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst).Handler())
	}

	ws := wsgateway.NewServer(hub, topic, coordinator, presence)
	handler.Register(r,
		handler.NewConversationHandler(coordinator, presence),
		handler.NewAgentHandler(coordinator, presence),
		ws,
	)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		logger.Infof("[main] listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[main] server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("[main] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[main] shutdown failed: %v", err)
	}
}
