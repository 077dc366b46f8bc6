package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/config"
	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/httpserver"
	"github.com/gogagureshidze/goga-network-sub001/internal/logging"
	"github.com/gogagureshidze/goga-network-sub001/internal/presence"
	"github.com/gogagureshidze/goga-network-sub001/internal/queue"
	"github.com/gogagureshidze/goga-network-sub001/internal/security"
	"github.com/gogagureshidze/goga-network-sub001/internal/service"
	"github.com/gogagureshidze/goga-network-sub001/internal/store/postgres"
	"github.com/gogagureshidze/goga-network-sub001/internal/store/sqlite"
	"github.com/gogagureshidze/goga-network-sub001/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

type store struct {
	db            *sql.DB
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
}

func openStore(cfg *config.Config) (*store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &store{db: db, conversations: postgres.NewConversationRepo(db), messages: postgres.NewMessageRepo(db)}, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &store{db: db, conversations: sqlite.NewConversationRepo(db), messages: sqlite.NewMessageRepo(db)}, nil
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.db.Close()

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyFernetKeys)
	if err != nil {
		return fmt.Errorf("init encryptor: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	// Presence and cross-node relay
	var (
		registry presence.Registry = presence.NewMemory()
		relay    *ws.RedisRelay
	)
	if cfg.PresenceBackend == config.PresenceRedis {
		registry = presence.NewRedis(rdb, "")
		relay = ws.NewRedisRelay(rdb, "", logger.Named("relay"))
	}
	var hubRelay ws.Relay
	if relay != nil {
		hubRelay = relay
	}
	hub := ws.NewHub(cfg.NodeID, hubRelay, logger.Named("hub"))

	// History pruning runs on asynq when Redis is available.
	var pruner service.Pruner = service.NewInlinePruner(st.messages, cfg.MaxMessagesPerConversation, logger)
	workerErr := make(chan error, 1)
	if rdb != nil {
		qc, err := queue.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer qc.Close()
		pruner = service.NewQueuedPruner(qc, cfg.MaxMessagesPerConversation, logger)

		worker, err := queue.NewServer(cfg.RedisURL, cfg.QueueConcurrency, logger.Named("worker"), service.PruneQueue)
		if err != nil {
			return err
		}
		service.RegisterPruneTask(worker, st.messages)
		go func() { workerErr <- worker.Run(ctx) }()
	}

	msgRouter := service.NewMessageRouter(st.conversations, st.messages, registry, hub, encryptor, pruner, logger.Named("router"))
	convSvc := service.NewConversationService(st.conversations, st.messages, encryptor, cfg.MaxMessagesPerConversation, logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ws.NewMetrics(promReg)

	wsHandler := ws.MakeHandler(hub, registry, msgRouter, tokenSvc, metrics, cfg.CORSOrigins, logger.Named("ws"))
	handler := httpserver.NewRouter(cfg, tokenSvc, convSvc, msgRouter, registry, wsHandler,
		promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}), logger.Named("http"))

	if relay != nil {
		stopRelay, err := relay.Listen(ctx, cfg.NodeID, hub.DeliverLocal)
		if err != nil {
			return err
		}
		defer stopRelay()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting dm router",
			zap.String("addr", cfg.HTTPAddr()),
			zap.String("node", cfg.NodeID),
			zap.String("db", cfg.DBDriver),
			zap.String("presence", cfg.PresenceBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case err := <-workerErr:
		if err != nil {
			return fmt.Errorf("queue worker: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	// Hijacked websocket connections are not covered by Shutdown.
	hub.Close()
	return nil
}
