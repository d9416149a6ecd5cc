// Package main is the in-container agent peer. It reads its identity from
// the secret files the master mounted under /run/secrets, connects back over
// the internal WebSocket channel, and bridges master frames to a driver.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/agentlink"
	"github.com/Lmdudester/Clawd-sub001/internal/agentlink/mockdriver"
	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
)

const secretsDir = "/run/secrets"

// readSecret returns the trimmed contents of one mounted secret file.
func readSecret(name string) (string, error) {
	data, err := os.ReadFile(secretsDir + "/" + name)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", name)
	}
	return value, nil
}

func main() {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  envOr("CLAWD_LOG_LEVEL", "info"),
		Format: logger.DetectLogFormat(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	sessionID := os.Getenv("SESSION_ID")
	if sessionID == "" {
		log.Fatal("SESSION_ID is not set")
	}
	token, err := readSecret("session_token")
	if err != nil {
		log.Fatal("Failed to read session token", zap.Error(err))
	}
	masterURL, err := readSecret("master_ws_url")
	if err != nil {
		log.Fatal("Failed to read master WebSocket URL", zap.Error(err))
	}

	log.Info("Starting clawd agent", zap.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := mockdriver.New()
	runner := agentlink.NewRunner(driver, log)

	link := agentlink.NewLink(agentlink.Config{
		URL:       masterURL,
		SessionID: sessionID,
		Token:     token,
	}, runner.HandleFrame, log)
	runner.Bind(link)

	// A first connection that fails to authenticate is fatal: the token is
	// wrong or the session is gone, and retrying cannot fix either.
	if err := link.Connect(ctx); err != nil {
		log.Fatal("Failed to connect to master", zap.Error(err))
	}
	defer link.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
		runner.Close()
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Error("Agent loop failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("clawd agent stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
