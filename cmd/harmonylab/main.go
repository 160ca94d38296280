// Command harmonylab is the main entry point for the HarmonyLab real-time
// harmonizer server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harmonylab/harmonylab/internal/config"
	"github.com/harmonylab/harmonylab/internal/engine"
	"github.com/harmonylab/harmonylab/internal/health"
	"github.com/harmonylab/harmonylab/internal/observe"
	"github.com/harmonylab/harmonylab/internal/server"
	paplatform "github.com/harmonylab/harmonylab/pkg/audio/portaudio"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "harmonylab: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "harmonylab: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("harmonylab starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	platform, err := paplatform.New()
	if err != nil {
		slog.Error("failed to initialise audio platform", "err", err)
		return 1
	}
	defer func() {
		if err := platform.Close(); err != nil {
			slog.Warn("audio platform close error", "err", err)
		}
	}()

	eng, err := engine.New(cfg, platform, engine.WithLogger(logger))
	if err != nil {
		slog.Error("failed to start engine", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	checks := health.New(health.PlatformChecker(platform))
	srv := server.New(eng, cfg, checks, observe.DefaultMetrics(), logger)

	slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        HarmonyLab — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Sample rate     : %-19d ║\n", cfg.Audio.SampleRate)
	fmt.Printf("║  Block size      : %-19d ║\n", cfg.Audio.BlockSize)
	fmt.Printf("║  Voices          : %-19d ║\n", len(cfg.Voices))
	monitor := "off"
	if cfg.Audio.Monitor {
		monitor = "on"
	}
	fmt.Printf("║  Monitor output  : %-19s ║\n", monitor)
	fmt.Printf("║  Record format   : %-19s ║\n", cfg.Recording.Format)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
