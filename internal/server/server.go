package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hr-realtime/config"
	"hr-realtime/internal/handler"
	"hr-realtime/internal/middleware"
	"hr-realtime/internal/redis"
	"hr-realtime/internal/services"
	"hr-realtime/internal/transport/httpdto"
	"hr-realtime/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Presence  *handler.PresenceHandler
	Relay     *handler.RelayHandler
	Calls     *handler.CallHandler
	WebSocket *WebSocketHandler
}

// Deps are the collaborators routes are guarded by.
type Deps struct {
	Auth    *services.AuthService
	Limiter *redis.RateLimiter
	Health  map[string]HealthCheck
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the gin engine for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Deps) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.AllowedOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for name, check := range deps.Health {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(fmt.Sprintf("%s: %s", name, err), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := []gin.HandlerFunc{}
	if deps.Limiter != nil {
		ws = append(ws, middleware.WebSocketRateLimitMiddleware(deps.Limiter, deps.Auth))
	}
	ws = append(ws, handlers.WebSocket.Handle)
	s.engine.GET("/ws", ws...)

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(deps.Auth))
	{
		v1.GET("/presence", handlers.Presence.OnlineCount)
		v1.GET("/presence/:user_id", handlers.Presence.Get)

		relay := []gin.HandlerFunc{}
		if deps.Limiter != nil {
			relay = append(relay, middleware.RelayRateLimitMiddleware(deps.Limiter))
		}
		relay = append(relay, handlers.Relay.Relay)
		v1.POST("/relay", relay...)

		v1.GET("/calls", handlers.Calls.ListActive)
		v1.GET("/calls/:call_id", handlers.Calls.GetByID)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("port", s.config.AppPort))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutdown signal received, draining http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("server stopped gracefully")
	return nil
}
