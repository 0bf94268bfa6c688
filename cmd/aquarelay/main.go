package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hidrolabs/aquarelay/internal/auth/jwt"
	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/conversation"
	"github.com/hidrolabs/aquarelay/internal/i18n"
	"github.com/hidrolabs/aquarelay/internal/ingress"
	"github.com/hidrolabs/aquarelay/internal/notify"
	"github.com/hidrolabs/aquarelay/internal/platform"
	"github.com/hidrolabs/aquarelay/internal/relay"
	"github.com/hidrolabs/aquarelay/internal/server"
	"github.com/hidrolabs/aquarelay/pkg/logger"
	"github.com/hidrolabs/aquarelay/pkg/metrics"
	"github.com/hidrolabs/aquarelay/pkg/openai"
	"github.com/hidrolabs/aquarelay/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of aquarelay",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aquarelay version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "aquarelay",
		Short: "Conversational relay and notification gateway",
		Long: `aquarelay bridges a customer-service chat platform with an AI completion
API and fans agent notifications out over SSE streams`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "configs/aquarelay.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()

	zapLogger.Info("starting aquarelay", zap.String("version", version.Get()))

	translator := i18n.New(cfg.I18n.DefaultLang)
	if err := translator.LoadTranslations(cfg.I18n.Path); err != nil {
		zapLogger.Warn("falling back to built-in translations",
			zap.String("path", cfg.I18n.Path),
			zap.Error(err))
		translator.MustAddMessages(cnst.LangES, i18n.DefaultMessages(cnst.LangES)...)
		translator.MustAddMessages(cnst.LangEN, i18n.DefaultMessages(cnst.LangEN)...)
	}

	store, err := conversation.NewStore(zapLogger, &cfg.Session)
	if err != nil {
		zapLogger.Fatal("failed to initialize conversation store", zap.Error(err))
	}

	sweeper := conversation.NewSweeper(zapLogger, store, cfg.Session.MaxAge, cfg.Session.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	toolRegistry := relay.NewToolRegistry(zapLogger)
	if err := relay.RegisterDomainTools(toolRegistry, zapLogger, &cfg.Tools); err != nil {
		zapLogger.Fatal("failed to register tools", zap.Error(err))
	}

	completionClient := openai.NewClient(&cfg.OpenAI)
	replyRelay := relay.New(zapLogger, store, completionClient, toolRegistry, &cfg.OpenAI)
	replyRelay.SetMetrics(m)

	platformClient := platform.NewClient(zapLogger, &cfg.Platform)
	processor := ingress.NewProcessor(zapLogger, store, replyRelay, platformClient, translator)

	queue := ingress.NewQueue(zapLogger, cfg.Ingress.QueueSize, cfg.Ingress.Workers, processor.Process)
	queue.Start()

	chatHandler := ingress.NewHandler(zapLogger, queue)
	chatHandler.SetMetrics(m)

	registry := notify.NewRegistry(zapLogger, cfg.Notify.QueueSize)
	broadcaster := notify.NewBroadcaster(zapLogger, registry)
	broadcaster.SetMetrics(m)

	jwtService, err := jwt.NewService(jwt.Config{
		SecretKey: cfg.Auth.JWT.SecretKey,
		Duration:  cfg.Auth.JWT.Duration,
	})
	if err != nil {
		zapLogger.Fatal("failed to initialize stream auth", zap.Error(err))
	}

	streamHandler := notify.NewStreamHandler(zapLogger, registry, jwtService, cfg.Notify.KeepaliveInterval)
	streamHandler.SetMetrics(m)

	srv := server.NewServer(zapLogger, &cfg.Server, store, translator, server.Handlers{
		Chat:         chatHandler,
		Notification: notify.NewWebhookHandler(zapLogger, broadcaster),
		Stream:       streamHandler,
	}, m)
	srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// close open streams first: their handlers only return once the queues
	// close, and Shutdown waits for active requests
	for _, conn := range registry.All() {
		registry.Unregister(conn)
	}

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("failed to shut down http server", zap.Error(err))
	}

	// drain in-flight webhook tasks before exiting
	if err := queue.Shutdown(ctx); err != nil {
		zapLogger.Error("failed to drain task queue", zap.Error(err))
	}

	zapLogger.Info("aquarelay stopped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
