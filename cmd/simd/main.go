package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"beltline/internal/config"
	"beltline/internal/localsim"
	"beltline/internal/logger"
	"beltline/internal/mailbox"
	"beltline/internal/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Beltline simulation daemon",
		"port", cfg.SimPort,
		"environment", cfg.Environment,
		"tick_ms", cfg.TickMS)

	worldCfg := localsim.DefaultWorldConfig()
	if cfg.WorldConfigPath != "" {
		worldCfg, err = localsim.LoadWorldConfig(cfg.WorldConfigPath)
		if err != nil {
			log.Error("Failed to load world config", "path", cfg.WorldConfigPath, "error", err)
			os.Exit(1)
		}
		log.Info("World config loaded", "path", cfg.WorldConfigPath)
	}

	var mail mailbox.Store
	if cfg.MailboxRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.MailboxRedisAddr})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			log.Error("Failed to connect to Redis mailbox", "addr", cfg.MailboxRedisAddr, "error", err)
			os.Exit(1)
		}
		pingCancel()
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error("Error closing Redis mailbox client", "error", err)
			}
		}()
		mail = mailbox.NewRedis(rdb, 24*time.Hour)
		log.Info("Redis mailbox connected", "addr", cfg.MailboxRedisAddr)
	} else {
		mail = mailbox.NewMemory()
	}

	world := localsim.NewWorld(worldCfg, mail, log)

	tickCtx, tickCancel := context.WithCancel(context.Background())
	defer tickCancel()
	go world.RunTickLoop(tickCtx, time.Duration(cfg.TickMS)*time.Millisecond)

	bridgeServer := localsim.NewServer(world, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", bridgeServer.Handler())
	mux.Handle("/mailbox", newInjectHandler(mail, log))

	handler := middleware.Logger(mux)
	server := &http.Server{
		Addr:        ":" + cfg.SimPort,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: bridge connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")
	tickCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exited")
}

// newInjectHandler lets an external surface (operator console, chat
// relay) drop a message into an actor's box without going through the
// command channel. The body may be a structured envelope or a plain
// string; the recipient query parameter wins over the envelope field.
func newInjectHandler(mail mailbox.Store, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		msg := mailbox.DecodeEnvelope(body)
		if to := r.URL.Query().Get("to"); to != "" {
			msg.Recipient = to
		}
		if msg.Recipient == "" && !msg.Broadcast {
			http.Error(w, "recipient is required", http.StatusBadRequest)
			return
		}

		if msg.Broadcast {
			n, err := mail.Broadcast(r.Context(), msg)
			if err != nil {
				log.Error("Mailbox broadcast failed", "error", err)
				http.Error(w, "broadcast failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]int{"delivered": n})
			return
		}

		if err := mail.Send(r.Context(), msg); err != nil {
			log.Error("Mailbox send failed", "recipient", msg.Recipient, "error", err)
			http.Error(w, "send failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}
