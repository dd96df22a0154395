package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/nodeclaim/internal/config"
	httpserver "github.com/tendant/nodeclaim/internal/http"
	"github.com/tendant/nodeclaim/pkg/auth"
	"github.com/tendant/nodeclaim/pkg/repository"
	"github.com/tendant/nodeclaim/pkg/verify"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return serve(cfg, logger)
		},
	}
}

func openDB(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := repository.NewDB(repository.Config{
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		DBName:          cfg.DBName,
		SSLMode:         cfg.DBSSLMode,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repository.ValidateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("connected to database")
	return db, nil
}

func newSessionManager(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*verify.SessionManager, *repository.NodesRepository) {
	nodesRepo := repository.NewNodesRepository(db)
	sessions := verify.NewSessionManager(verify.Config{
		ChallengeTTL:    cfg.Verification.ChallengeTTL,
		ChallengeLength: cfg.Verification.ChallengeLength,
	},
		repository.NewVerificationRequestsRepository(db),
		nodesRepo,
		repository.NewModerationItemsRepository(db),
		logger,
	)
	return sessions, nodesRepo
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, nodesRepo := newSessionManager(cfg, db, logger)

	resolver, err := verify.NewDNSResolver(cfg.Verification.DNSServers, cfg.Verification.DNSTimeout)
	if err != nil {
		return fmt.Errorf("failed to set up DNS resolver: %w", err)
	}

	tokenService := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})

	var stepUp *auth.StepUp
	if cfg.HasModeratorStepUp() {
		stepUp = auth.NewStepUp(cfg.Verification.ModeratorTOTPSecret)
		logger.Info("moderator step-up enabled")
	}

	sweeper, err := verify.NewSweeper(sessions, cfg.Verification.SweepSchedule, logger)
	if err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE: %w", err)
	}
	sweeper.Start()

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:             logger,
		TokenService:       tokenService,
		Sessions:           sessions,
		SignatureValidator: verify.NewSignatureValidator(sessions, verify.Network{
			MessagePrefix:     cfg.Verification.SignedMessagePrefix,
			PubKeyHashVersion: byte(cfg.Verification.AddressVersion),
		}),
		DNSValidator:       verify.NewDNSValidator(sessions, resolver),
		ProbeValidator:     verify.NewProbeValidator(sessions),
		PassiveValidator:   verify.NewPassiveTagValidator(sessions),
		NodeRegistry:       nodesRepo,
		ModeratorStepUp:    stepUp,
		Verification:       cfg.Verification,
		RateLimitConfig:    cfg.RateLimit,
		SecurityHeaders:    cfg.SecurityHeaders,
		Validation:         cfg.Validation,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serverErr:
		logger.Error("server error", "error", runErr)
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	sweeper.Stop(ctx)

	logger.Info("server stopped")
	return runErr
}
