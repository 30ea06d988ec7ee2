package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"beltline/internal/bridge"
	"beltline/internal/config"
	"beltline/internal/handlers"
	"beltline/internal/localsim"
	"beltline/internal/logger"
	"beltline/internal/mailbox"
	"beltline/internal/middleware"
	"beltline/internal/runlog"
	"beltline/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Beltline agent daemon",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"bridge_url", cfg.BridgeURL)

	simCtx, simCancel := context.WithCancel(context.Background())
	defer simCancel()

	var transport bridge.Transport
	if cfg.BridgeURL != "" {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
		ws, err := bridge.DialWS(dialCtx, cfg.BridgeURL)
		dialCancel()
		if err != nil {
			log.Error("Failed to dial simulation bridge", "url", cfg.BridgeURL, "error", err)
			os.Exit(1)
		}
		transport = ws
		log.Info("Connected to simulation bridge", "url", cfg.BridgeURL)
	} else {
		// No external simulation configured; run the embedded world over
		// an in-process loopback.
		worldCfg := localsim.DefaultWorldConfig()
		if cfg.WorldConfigPath != "" {
			worldCfg, err = localsim.LoadWorldConfig(cfg.WorldConfigPath)
			if err != nil {
				log.Error("Failed to load world config", "path", cfg.WorldConfigPath, "error", err)
				os.Exit(1)
			}
		}

		mail, cleanup, err := selectMailbox(cfg, log)
		if err != nil {
			log.Error("Failed to connect to mailbox store", "error", err)
			os.Exit(1)
		}
		defer cleanup()

		world := localsim.NewWorld(worldCfg, mail, log)
		go world.RunTickLoop(simCtx, time.Duration(cfg.TickMS)*time.Millisecond)
		transport = bridge.NewLoopback(world)
		log.Info("Embedded world started",
			"width", worldCfg.Width,
			"height", worldCfg.Height,
			"tick_ms", cfg.TickMS)
	}
	transport = bridge.NewGuarded(transport)

	var recorder *runlog.Recorder
	if cfg.RunlogDir != "" {
		recorder = runlog.NewRecorder(cfg.RunlogDir, "episode", log)
		transport = runlog.WrapTransport(transport, recorder)
		log.Info("Episode recording enabled", "dir", cfg.RunlogDir)
	}

	arena := session.NewArena(transport, log)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(arena, log)
	mux.Handle("/health", healthHandler)

	sessionsHandler := handlers.NewSessionsHandler(arena, recorder, log)
	mux.Handle("/v1/sessions", sessionsHandler)
	mux.Handle("/v1/sessions/", sessionsHandler)

	handler := middleware.Logger(mux)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	arena.Close()
	if err := transport.Close(); err != nil {
		log.Error("Error closing bridge transport", "error", err)
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Error("Error closing episode recorder", "error", err)
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exited")
}

// selectMailbox picks the Redis store when an address is configured,
// otherwise the in-memory store. The returned cleanup is always safe to
// call.
func selectMailbox(cfg *config.Config, log *slog.Logger) (mailbox.Store, func(), error) {
	if cfg.MailboxRedisAddr == "" {
		return mailbox.NewMemory(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.MailboxRedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, func() {}, err
	}

	log.Info("Redis mailbox connected", "addr", cfg.MailboxRedisAddr)
	cleanup := func() {
		if err := rdb.Close(); err != nil {
			log.Error("Error closing Redis mailbox client", "error", err)
		}
	}
	return mailbox.NewRedis(rdb, 24*time.Hour), cleanup, nil
}
