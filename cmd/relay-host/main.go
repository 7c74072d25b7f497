// ABOUTME: Entry point for the agent-relay host process.
// ABOUTME: Loads configuration, sets up logging, and runs the relay until interrupted.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/agent-relay/internal/config"
	"github.com/2389/agent-relay/internal/host"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _             _
  __ _  __ _  ___ _ __  | |_      _ __ ___| | __ _ _   _
 / _' |/ _' |/ _ \ '_ \ | __|____| '__/ _ \ |/ _' | | | |
| (_| | (_| |  __/ | | || ||_____| | |  __/ | (_| | |_| |
 \__,_|\__, |\___|_| |_| \__|    |_|  \___|_|\__,_|\__, |
       |___/                                       |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: AGENT_RELAY_CONFIG env var > XDG_CONFIG_HOME/agent-relay/relay.yaml
// > ~/.config/agent-relay/relay.yaml.
func getConfigPath() string {
	if envPath := os.Getenv("AGENT_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "agent-relay", "relay.yaml")
}

// loadConfig loads the config file at path, falling back to defaults when no
// file exists.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if path == "" {
		logger.Info("no config path resolved, using defaults")
		return config.Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupLogger builds the process logger from the logging config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: resolved from environment)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agent-relay %s\n", version)
		return
	}

	color.Magenta(banner)
	fmt.Fprintf(os.Stderr, "agent-relay %s\n\n", version)

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	path := *configPath
	if path == "" {
		path = getConfigPath()
	}
	cfg, err := loadConfig(path, bootLogger)
	if err != nil {
		bootLogger.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	h, err := host.New(cfg, logger)
	if err != nil {
		logger.Error("creating relay host", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := h.Run(ctx); err != nil {
		logger.Error("relay host exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("relay host stopped")
}
