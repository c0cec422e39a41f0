package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hr-realtime/config"
	"hr-realtime/internal/feed"
	"hr-realtime/internal/handler"
	"hr-realtime/internal/janitor"
	"hr-realtime/internal/messaging"
	"hr-realtime/internal/metrics"
	"hr-realtime/internal/notify"
	"hr-realtime/internal/presence"
	"hr-realtime/internal/redis"
	"hr-realtime/internal/repository"
	"hr-realtime/internal/server"
	"hr-realtime/internal/services"
	"hr-realtime/internal/signaling"
	"hr-realtime/pkg/database"
	"hr-realtime/pkg/logger"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.New(logger.DevelopmentMode).Logger.Fatal("failed to load config", zap.Error(err))
	}

	mode := logger.DevelopmentMode
	if cfg.IsProduction() {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	// Redis
	redis.Initialize(redis.ConfigFrom(cfg))
	rdb := redis.GetClient()
	defer rdb.Close()

	publisher := redis.NewPublisher(rdb)
	presenceStore := redis.NewPresenceStore(rdb, publisher, cfg.PresenceTTL)
	cacheStore := redis.NewCacheStore(rdb, redis.CacheConfig{ConversationTTL: cfg.ConversationCacheTTL})
	callStore := redis.NewCallStore(rdb)

	limits := redis.DefaultRateLimitConfig()
	if cfg.CallRateLimit > 0 {
		limits.CallLimit = cfg.CallRateLimit
	}
	if cfg.WSRateLimit > 0 {
		limits.WebSocketLimit = cfg.WSRateLimit
	}
	limiter := redis.NewRateLimiter(rdb, limits)

	// Postgres
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	directory := repository.NewConversationDirectory(db, cacheStore, l)

	m := metrics.New()

	// Realtime core
	wsl := server.NewWebSocketLogger(l)
	hub := server.NewHub(wsl).WithMetrics(m)
	registry := presence.NewRegistry(hub, directory, presenceStore, l).WithMetrics(m)
	dispatcher := notify.NewDispatcher(directory, l).WithMetrics(m)
	channel := messaging.NewChannel(directory, dispatcher, l).WithMetrics(m)
	calls := signaling.NewManager(hub, registry, cfg.RingTimeout, l).
		WithMetrics(m).
		WithJournal(callStore)
	router := server.NewRouter(hub, registry, channel, calls, wsl).
		WithCallLimiter(limiter).
		WithMetrics(m)

	auth := services.NewAuthService(cfg)
	timings := server.Timings{
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	}

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Presence:  handler.NewPresenceHandler(registry, presenceStore),
		Relay:     handler.NewRelayHandler(channel),
		Calls:     handler.NewCallHandler(calls, callStore),
		WebSocket: server.NewWebSocketHandler(ctx, router, auth, timings, cfg.AllowedOrigins, wsl),
	}, server.Deps{
		Auth:    auth,
		Limiter: limiter,
		Health: map[string]server.HealthCheck{
			"redis":    func(ctx context.Context) error { return redis.Ping(ctx, rdb) },
			"postgres": directory.Ping,
		},
	})

	sweeper, err := janitor.New(cfg.JanitorSchedule, calls, presenceStore, 2*cfg.PresenceTTL, l)
	if err != nil {
		return err
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()

	p.Go(func(ctx context.Context) error {
		return srv.Start(ctx)
	})

	p.Go(func(ctx context.Context) error {
		sweeper.Start()
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sweeper.Stop(stopCtx)
		return nil
	})

	if cfg.MessageFeedEnabled {
		messageFeed := feed.NewMessageFeed(redis.NewSubscriber(rdb), channel, l).
			WithInvalidator(cacheStore)
		p.Go(func(ctx context.Context) error {
			return messageFeed.Run(ctx, cfg.MessageFeedChannel)
		})
	}

	err = p.Wait()
	hub.Stop()
	l.Info("realtime core stopped")
	return err
}
