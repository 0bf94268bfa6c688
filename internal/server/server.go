package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/conversation"
	"github.com/hidrolabs/aquarelay/internal/i18n"
	"github.com/hidrolabs/aquarelay/internal/ingress"
	"github.com/hidrolabs/aquarelay/internal/notify"
	"github.com/hidrolabs/aquarelay/pkg/metrics"
	"github.com/hidrolabs/aquarelay/pkg/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server assembles the HTTP surface: the two inbound webhooks, the SSE
// notification stream, and the session inspection endpoints.
type Server struct {
	logger     *zap.Logger
	cfg        *config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server

	store      conversation.Store
	translator *i18n.I18n
	metrics    *metrics.Metrics
}

// Handlers groups the route handlers the server mounts.
type Handlers struct {
	Chat         *ingress.Handler
	Notification *notify.WebhookHandler
	Stream       *notify.StreamHandler
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(logger *zap.Logger, cfg *config.ServerConfig, store conversation.Store, translator *i18n.I18n, handlers Handlers, m *metrics.Metrics) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		logger:     logger.Named("server"),
		cfg:        cfg,
		router:     gin.New(),
		store:      store,
		translator: translator,
		metrics:    m,
	}

	s.router.Use(s.loggerMiddleware())
	s.router.Use(s.recoveryMiddleware())
	if m != nil {
		s.router.Use(m.Middleware())
	}

	s.registerRoutes(handlers)
	return s
}

func (s *Server) registerRoutes(h Handlers) {
	s.router.GET("/health_check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": version.Get(),
		})
	})

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router.POST("/webhook/chat", h.Chat.HandleChatWebhook)
	s.router.POST("/webhook/notification", h.Notification.HandleNotificationWebhook)
	s.router.GET("/notifications/stream", h.Stream.HandleStream)

	api := s.router.Group("/api")
	api.GET("/sessions/:conversationId", s.handleGetSession)
	api.DELETE("/sessions/:conversationId", s.handleDeleteSession)
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}
	go func() {
		s.logger.Info("http server listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline. Open SSE streams are closed by the registry teardown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
