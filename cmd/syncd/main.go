package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/synsocial/chatsync/internal/api"
	"github.com/synsocial/chatsync/internal/config"
	"github.com/synsocial/chatsync/internal/delivery"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/logger"
	"github.com/synsocial/chatsync/internal/receipt"
	signaling "github.com/synsocial/chatsync/internal/signal"
	"github.com/synsocial/chatsync/internal/store"
	"github.com/synsocial/chatsync/internal/supervisor"
	"github.com/synsocial/chatsync/internal/transport"
	"github.com/synsocial/chatsync/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("SYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("config %s not readable (%v), using defaults", cfgPath, err)
		cfg = config.Default()
	}

	zlog, err := logger.New(logger.Config{Development: cfg.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	mongoClient, err := store.NewMongoClient(cfg.Mongo)
	if err != nil {
		zlog.Fatalw("mongo connect", "uri", cfg.Mongo.URI, "err", err)
	}
	db := mongoClient.Database(cfg.Mongo.Database)
	messages := store.NewMongoMessages(db)
	chats := store.NewMongoChats(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisRT := transport.NewRedisRealtime(rdb, cfg.Redis.Prefix, cfg.PresenceTTL, zlog)
	rt := transport.NewBreakerRealtime(redisRT)

	bus := events.NewBus()
	var kafka *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, zlog)
		defer func() { _ = kafka.Close() }()
	}

	origin := uuid.NewString()
	fan := &transport.Fanout{Origin: origin, Bus: bus, RT: rt, Kafka: kafka, Log: zlog}

	ids := identity.NewStatic("")
	batcher := receipt.NewBatcher(messages, chats, ids, fan, receipt.Config{
		Debounce:    cfg.ReceiptDebounce,
		MaxBuffered: cfg.Sync.ReceiptMaxBuffered,
	}, zlog)
	machine := delivery.NewMachine(messages, chats, ids, batcher, fan, zlog)

	typing := signaling.NewTypingSignaler(redisRT, ids, bus, signaling.TypingConfig{
		TTL:             cfg.TypingTTL,
		RefreshInterval: cfg.TypingDebounce,
	}, zlog)
	presence := signaling.NewPresenceKeeper(redisRT, cfg.PresenceTTL/2, zlog)

	supCfg := supervisor.Config{
		Origin:            origin,
		HeartbeatInterval: cfg.Heartbeat,
		MaxMissed:         cfg.Sync.MissedHeartbeats,
		BackoffMin:        cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffCap,
		StableAfter:       cfg.BackoffStable,
		PollInterval:      cfg.PollInterval,
	}
	wsrv := ws.NewServer(machine, typing, presence, chats, messages, bus, rt, supCfg, cfg.JWT.Secret, zlog)
	app := api.NewServer(machine, wsrv, cfg.JWT.Secret, zlog)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		zlog.Infow("starting sync service", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zlog.Fatalw("server error", "err", e)
	case s := <-sig:
		zlog.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		zlog.Warnw("fiber shutdown", "err", err)
	}
	// drain pending read receipts before the process goes away
	batcher.FlushAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mongoClient.Disconnect(ctx); err != nil {
		zlog.Warnw("mongo disconnect", "err", err)
	}
	zlog.Infow("shutdown complete")
}
