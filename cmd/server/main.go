// Package main is the entry point for the secrets gateway.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (environment variables, via internal/config)
// 2. Create the logger
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server,
// internal/service, etc.).
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/secrets-gateway/internal/config"
	"github.com/sakif/secrets-gateway/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// SESSION_SECRET is the only required variable. Generate one with:
	//   SESSION_SECRET=$(openssl rand -hex 32)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Log levels (from least to most severe): Debug → Info → Warn → Error.
	// LOG_LEVEL picks the minimum; the default is info.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
