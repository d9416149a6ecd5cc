// Package main is the clawd master. One binary runs the whole control plane:
// REST API, both WebSocket hubs, the session manager, and the container
// manager, sharing one in-process event bus.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/config"
	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/internal/common/tracing"
	"github.com/Lmdudester/Clawd-sub001/internal/container"
	"github.com/Lmdudester/Clawd-sub001/internal/credentials"
	"github.com/Lmdudester/Clawd-sub001/internal/events/bus"
	"github.com/Lmdudester/Clawd-sub001/internal/gateway/agentws"
	"github.com/Lmdudester/Clawd-sub001/internal/gateway/clientws"
	"github.com/Lmdudester/Clawd-sub001/internal/gateway/httpapi"
	"github.com/Lmdudester/Clawd-sub001/internal/notify"
	"github.com/Lmdudester/Clawd-sub001/internal/session"
	"github.com/Lmdudester/Clawd-sub001/internal/session/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting clawd master...",
		zap.String("instance_id", cfg.Instance.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: authoritative in-memory bus, optional NATS mirror for
	// external consumers.
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsBus.Close()
		if _, err := bus.Mirror(eventBus, natsBus, bus.SessionWildcard, log); err != nil {
			log.Fatal("Failed to attach NATS mirror", zap.Error(err))
		}
		log.Info("Mirroring session events to NATS", zap.String("url", cfg.NATS.URL))
	}

	// 4. Container runtime
	runtime, err := container.NewDockerRuntime(log)
	if err != nil {
		log.Fatal("Failed to initialize container runtime", zap.Error(err))
	}
	defer runtime.Close()
	if err := runtime.Ping(ctx); err != nil {
		log.Fatal("Container daemon not available", zap.Error(err))
	}

	var creds *credentials.Info
	if info, ok := credentials.Discover(); ok {
		creds = &info
		log.Info("Discovered host credentials file", zap.String("path", info.FilePath))
	} else {
		log.Warn("No host credentials file found, sessions start without credentials mount")
	}
	containers := container.NewManager(runtime, cfg, creds, log)

	// 5. Session manager with snapshot persistence
	st := store.New(cfg.Session.StorePath, log)
	manager := session.NewManager(cfg, containers, st, eventBus, log)

	// 6. WebSocket hubs
	agentHub := agentws.NewHub(manager, log)

	validator := clientws.NewTokenValidator(cfg.Auth.JWTSecret, manager)
	clientHub := clientws.NewHub(manager, validator, log)
	if _, err := clientHub.Attach(eventBus); err != nil {
		log.Fatal("Failed to attach client hub to event bus", zap.Error(err))
	}
	defer clientHub.Close()

	// 7. Push notifications
	targets, err := notify.LoadTargets(cfg.Notify.ConfigPath)
	if err != nil {
		log.Fatal("Failed to load notification targets", zap.Error(err))
	}
	notifier := notify.NewNotifier(log,
		notify.NewAppriseProvider(targets.Apprise.Targets),
		notify.NewLogProvider(log),
	)
	debouncer := notify.NewDebouncer(notifier, clientHub, manager, log)
	if _, err := debouncer.Attach(eventBus); err != nil {
		log.Fatal("Failed to attach notification debouncer", zap.Error(err))
	}
	defer debouncer.Close()

	// 8. Restore persisted sessions and reconcile containers before serving.
	if err := manager.Restore(ctx); err != nil {
		log.Fatal("Failed to restore session snapshot", zap.Error(err))
	}
	defer manager.Close()

	// 9. HTTP server: REST API plus the two WebSocket endpoints.
	router := httpapi.NewRouter(log)
	httpapi.NewHandlers(manager, log).Register(router)
	router.GET("/ws", clientHub.HandleConnection)
	router.GET("/internal/session", agentHub.HandleConnection)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 10. Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Trace exporter shutdown failed", zap.Error(err))
	}

	log.Info("clawd master stopped")
}
