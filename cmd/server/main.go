// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quorumgames/lobbyd/internal/auth"
	"github.com/quorumgames/lobbyd/internal/clock"
	"github.com/quorumgames/lobbyd/internal/handlers"
	"github.com/quorumgames/lobbyd/internal/hub"
	"github.com/quorumgames/lobbyd/internal/journal"
	"github.com/quorumgames/lobbyd/internal/lobby"
)

// buildValidator picks the token validator from AUTH_MODE. Static mode reads
// identities straight out of "user:<id>:<name>" tokens and exists for local
// development; jwt mode verifies EdDSA session tokens.
func buildValidator(logger *logrus.Logger) auth.Validator {
	switch mode := os.Getenv("AUTH_MODE"); mode {
	case "", "static":
		logger.Info("auth: static mode, tokens of the form user:<id>:<name>")
		return auth.Static{}
	case "jwt":
		privPath := os.Getenv("JWT_PRIVATE_KEY_FILE")
		pubPath := os.Getenv("JWT_PUBLIC_KEY_FILE")
		if privPath != "" && pubPath != "" {
			j, err := auth.NewJWTFromPath(privPath, pubPath)
			if err != nil {
				logger.Fatalf("failed to load jwt keys: %v", err)
			}
			logger.Info("auth: jwt mode with keys from disk")
			return j
		}
		j, err := auth.NewJWT()
		if err != nil {
			logger.Fatalf("failed to generate jwt keys: %v", err)
		}
		logger.Warn("auth: jwt mode with ephemeral keys, tokens will not survive a restart")
		return j
	default:
		logger.Fatalf("unknown AUTH_MODE %q", mode)
		return nil
	}
}

func main() {
	logger := logrus.New()
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
		logrus.SetLevel(logrus.DebugLevel)
	}

	validator := buildValidator(logger)

	engine := lobby.NewEngine(validator)
	h := hub.New(engine, validator, clock.New())
	engine.Sink = h.Broadcast
	engine.OnEmpty = h.CloseLobby
	defer h.Shutdown()

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		client, err := journal.Connect(context.Background(), redisURL)
		if err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		pub := journal.New(client, os.Getenv("REDIS_QUEUE_KEY"))
		h.Journal = pub
		logger.Infof("journal: publishing lobby events to redis queue %q", pub.Queue())
	} else {
		logger.Info("journal: REDIS_URL not set, lobby events stay in memory only")
	}

	srv := handlers.NewServer(engine, h, validator, logger)

	addr := ":8080"
	if port := os.Getenv("LOBBYD_PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("Running on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown failed: %v", err)
	}
}
