package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/watsonu/WebChat-Furia/internal/chat"
	"github.com/watsonu/WebChat-Furia/internal/config"
	"github.com/watsonu/WebChat-Furia/internal/httpapi"
	"github.com/watsonu/WebChat-Furia/internal/logging"
	"github.com/watsonu/WebChat-Furia/internal/matches"
	"github.com/watsonu/WebChat-Furia/internal/metrics"
	"github.com/watsonu/WebChat-Furia/internal/session"
	"github.com/watsonu/WebChat-Furia/internal/store"
	"github.com/watsonu/WebChat-Furia/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	messageLog, err := store.OpenBadger(cfg.Store.Path, cfg.Store.InMemory, logger)
	if err != nil {
		logger.Fatal("message store open failed", zap.Error(err))
	}
	defer messageLog.Close()

	// The store must be reachable before any connection is accepted; a dead
	// store at boot is the one unrecoverable condition.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 5*time.Second)
	err = messageLog.Ping(startupCtx)
	cancelStartup()
	if err != nil {
		logger.Fatal("message store unreachable at startup", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.StartSystemSampler(ctx, 15*time.Second, logger)

	registry := session.NewRegistry(cfg.Chat.AuthToken, cfg.Chat.SendQueueSize, metricsRegistry)
	engine := chat.NewEngine(messageLog, registry, transport.EncodeMessage, metricsRegistry, logger)
	chatServer := transport.NewServer(cfg.Chat, logger, engine, registry)
	matchClient := matches.NewClient(cfg.Matches, logger)
	httpServer := httpapi.NewServer(cfg.HTTP, logger, engine, registry, matchClient, metricsRegistry)

	if err := chatServer.Start(ctx); err != nil {
		logger.Fatal("chat transport start failed", zap.Error(err))
	}

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
		stop()
	}

	chatServer.Stop()
	logger.Info("chat transport stopped")
}
