package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/common/tracing"
	"github.com/agentdeck/agentdeck/internal/db"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	gateway "github.com/agentdeck/agentdeck/internal/gateway/http"
	"github.com/agentdeck/agentdeck/internal/session"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/workstate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentdeck:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	var pool *db.Pool
	switch cfg.Database.Driver {
	case "postgres":
		pool, err = db.OpenPostgresPool(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	default:
		pool, err = db.OpenSQLitePool(cfg.Database.Path)
	}
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	st, err := store.NewSQLStore(ctx, pool)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer eventBus.Close()

	workReader := workstate.NewReader(cfg.Workstate.Root, log)
	watcher := workstate.NewWatcher(workReader, eventBus, log)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start workstate watcher: %w", err)
	}
	defer watcher.Stop()

	svc := session.NewService(cfg, st, eventBus, workReader, log)
	defer svc.Registry().CloseAll()

	server := gateway.NewServer(cfg, svc, st, workReader, log)
	httpServer := &http.Server{
		Addr:        server.Addr(),
		Handler:     server.Handler(),
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
		// No write timeout: SSE and WebSocket streams stay open for the
		// lifetime of a session.
		WriteTimeout: 0,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
