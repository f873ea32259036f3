package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fitroom/backend/internal/config"
	"github.com/fitroom/backend/internal/cryptox"
	"github.com/fitroom/backend/internal/policy"
	"github.com/fitroom/backend/internal/ratelimit"
	"github.com/fitroom/backend/internal/service"
	"github.com/fitroom/backend/internal/session"
	"github.com/fitroom/backend/internal/store"
	transport "github.com/fitroom/backend/internal/transport/http"
	"github.com/fitroom/backend/internal/upstream"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("backend exited")
	}
}

func run() error {
	cfg := config.Load()

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Int("port", cfg.HTTPPort).Str("upstream", cfg.UpstreamBaseURL).Msg("starting backend")

	// Crypto + session store
	crypto, err := cryptox.New(cfg.MasterSecret)
	if err != nil {
		return fmt.Errorf("initialize crypto: %w", err)
	}
	if crypto.Ephemeral() {
		log.Warn().Msg("no MASTER_SECRET configured: using a random process-lifetime key, " +
			"sessions will not survive a restart (degraded mode, do not use in production)")
	}

	var sessions store.Store
	if cfg.DatabaseURL != "" {
		sessions, err = store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("initialize session store: %w", err)
		}
		log.Info().Str("database", cfg.DatabaseURL).Msg("persistent session store enabled")
	} else {
		sessions = store.NewMemoryStore()
	}
	defer sessions.Close()

	vault := session.NewVault(sessions, crypto, cfg.SessionTTL, cfg.MaxSessions, log.Logger)

	// Background sweep of expired sessions
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go session.NewSweeper(vault, cfg.SweepInterval, log.Logger).Run(sweepCtx)

	// Rate limiter
	limiter := ratelimit.New(map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassAuth:     {Max: cfg.AuthLimitMax, Window: cfg.AuthLimitWindow},
		ratelimit.ClassSession:  {Max: cfg.SessionLimitMax, Window: cfg.SessionLimitWindow},
		ratelimit.ClassUpstream: {Max: cfg.UpstreamLimitMax, Window: cfg.UpstreamLimitWindow},
	})

	// Upstream client + submission policy
	upstreamClient := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamCreatePath, cfg.UpstreamTimeout, cfg.CancelTimeout)

	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	svc := service.New(vault, upstreamClient, policyEngine, cfg, log.Logger)

	// HTTP server
	e := transport.NewServer(svc, limiter)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.HTTPPort).Msg("API started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}
