package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	// BridgeURL is the websocket address of the simulation collaborator.
	// Empty runs the embedded world over an in-process loopback.
	BridgeURL string

	// WorldConfigPath points at the embedded world's YAML file. Empty
	// loads defaults.
	WorldConfigPath string

	// MailboxRedisAddr selects the Redis mailbox store when set; empty
	// keeps the in-memory store.
	MailboxRedisAddr string

	// RunlogDir enables episode recording when set.
	RunlogDir string

	// SimPort is the simulation server's listen port.
	SimPort string
	// TickMS is the simulation tick interval in milliseconds.
	TickMS int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		LogLevel:         parseLogLevel(getEnv("LOG_LEVEL", "info")),
		BridgeURL:        getEnv("BRIDGE_URL", ""),
		WorldConfigPath:  getEnv("WORLD_CONFIG", ""),
		MailboxRedisAddr: getEnv("MAILBOX_REDIS_ADDR", ""),
		RunlogDir:        getEnv("RUNLOG_DIR", ""),
		SimPort:          getEnv("SIM_PORT", "8090"),
	}

	tickMS := getEnv("TICK_MS", "50")
	ms, err := strconv.Atoi(tickMS)
	if err != nil || ms <= 0 {
		return nil, fmt.Errorf("TICK_MS must be a positive integer, got %q", tickMS)
	}
	cfg.TickMS = ms

	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
