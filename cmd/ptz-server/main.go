package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"ptzserver/internal/config"
	"ptzserver/internal/logger"
	admin "ptzserver/internal/microservices/admin-api"
	"ptzserver/internal/microservices/tcp"
	udp "ptzserver/internal/microservices/udp-server"
	"ptzserver/internal/protocol"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	closeLog := logger.Setup(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
	})
	defer closeLog()
	lg := slog.Default()

	if err := run(cfg, lg); err != nil {
		lg.Error("server_error", "error", err.Error())
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codec, err := protocol.CodecByName(cfg.WireFormat)
	if err != nil {
		return err
	}

	cache, store := openAudit(cfg, lg)
	recorder := tcp.NewRecorder(ctx, cache, store)
	defer func() {
		if err := recorder.Close(); err != nil {
			lg.Warn("handshake_recorder_close_failed", "error", err.Error())
		}
	}()

	opts := tcp.Options{
		Version:          cfg.ProtocolVersion,
		Magic:            cfg.ProtocolMagic,
		Codec:            codec,
		MaxMessageSize:   int64(cfg.MaxMessageSize),
		HandshakeTimeout: cfg.HandshakeTimeout,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		ShutdownPoll:     cfg.ShutdownPoll,
		AcceptRate:       rate.Limit(cfg.AcceptRate),
		AcceptBurst:      cfg.AcceptBurst,
		Recorder:         recorder,
		Logger:           lg,
	}

	lg.Info("starting_ptz_server",
		"tcp_addr", cfg.TCPAddr(),
		"version", cfg.ProtocolVersion,
		"wire_format", codec.Name(),
		"announce", cfg.AnnounceEnabled,
		"admin", cfg.AdminEnabled,
	)

	manager := tcp.NewConnectionManager(cfg.TCPHost, cfg.TCPPort, opts)
	if err := manager.Start(); err != nil {
		return err
	}

	var announcer *udp.AnnouncementService
	if cfg.AnnounceEnabled {
		announcer = udp.NewAnnouncementService(cfg.AnnounceHostname(), manager, udp.AnnouncerOptions{
			Interval:    cfg.AnnounceInterval,
			BroadcastIP: cfg.AnnounceBroadcastIP,
			Magic:       cfg.ProtocolMagic,
			Codec:       codec,
			Status:      manager,
			Logger:      lg,
		})
		if err := announcer.Start(cfg.AnnounceBindAddr, cfg.AnnouncePort); err != nil {
			manager.Close()
			return err
		}
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	shutdownRequested := make(chan struct{}, 1)

	errChan := make(chan error, 1)
	var adminServer *admin.Server
	if cfg.AdminEnabled {
		adminServer = newAdminServer(cfg, manager, announcer, cache, store, lg, func() {
			select {
			case shutdownRequested <- struct{}{}:
			default:
			}
		})
		go func() {
			if err := adminServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("admin api: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		lg.Info("received_shutdown_signal", "signal", sig.String())
	case <-shutdownRequested:
		lg.Info("received_shutdown_request")
	case runErr = <-errChan:
	}

	// announcer first so nothing advertises a port that is going away
	if announcer != nil {
		announcer.Stop()
	}
	if adminServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			lg.Warn("admin_api_shutdown_failed", "error", err.Error())
		}
		cancelShutdown()
	}
	if err := manager.Close(); err != nil {
		lg.Warn("manager_close", "error", err.Error())
	}
	lg.Info("server_stopped_gracefully")
	return runErr
}

// openAudit connects the configured audit backends; an unreachable backend
// is logged and skipped rather than stopping the server.
func openAudit(cfg *config.Config, lg *slog.Logger) (*tcp.HandshakeRedisRepo, *tcp.HandshakePostgresRepo) {
	var cache *tcp.HandshakeRedisRepo
	if cfg.RedisURL != "" {
		repo, err := tcp.NewHandshakeRedisRepo(cfg.RedisURL)
		if err != nil {
			lg.Warn("handshake_audit_redis_unavailable", "error", err.Error())
		} else {
			cache = repo
		}
	}

	var store *tcp.HandshakePostgresRepo
	if cfg.DatabaseURL != "" {
		repo, err := tcp.OpenHandshakePostgresRepo(cfg.DatabaseURL)
		if err != nil {
			lg.Warn("handshake_audit_postgres_unavailable", "error", err.Error())
		} else {
			store = repo
		}
	}
	return cache, store
}

func newAdminServer(
	cfg *config.Config,
	manager *tcp.ConnectionManager,
	announcer *udp.AnnouncementService,
	cache *tcp.HandshakeRedisRepo,
	store *tcp.HandshakePostgresRepo,
	lg *slog.Logger,
	shutdown func(),
) *admin.Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// interfaces must stay untyped nil when a backend is missing
	var handshakes admin.HandshakeLog
	switch {
	case cache != nil:
		handshakes = cache
	case store != nil:
		handshakes = store
	}
	var ann admin.Announcer
	if announcer != nil {
		ann = announcer
	}

	handler := admin.NewHandler(manager, handshakes, ann, shutdown, cfg.ProtocolVersion)
	tokens := admin.NewTokenService(cfg.AdminJWTSecret)
	server := admin.NewServer(cfg.AdminAddr(), handler, tokens, lg)
	if cfg.AdminPasswordHash != "" {
		server.EnableLogin(admin.NewLogin(tokens, cfg.AdminPasswordHash, cfg.AdminTokenTTL))
	}
	return server
}
