// Command introcoach serves the self-introduction coach: the HTTP and
// websocket API, and optionally the MCP server over HTTP or stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/introcoach/internal/api"
	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/bootstrap"
	"github.com/MrWong99/introcoach/internal/config"
	"github.com/MrWong99/introcoach/internal/mcpserver"
	"github.com/MrWong99/introcoach/internal/observe"
	"github.com/MrWong99/introcoach/pkg/provider/stt/relay"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve the MCP tools over stdin/stdout instead of HTTP")
	origins := flag.String("allowed-origins", "", "comma-separated host patterns allowed to open the session websocket")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "introcoach: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "introcoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := bootstrap.NewLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("introcoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"mcp_stdio", *mcpStdio,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Init(ctx, observe.WithServiceVersion(version))
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := bootstrap.BuildProviders(cfg, bootstrap.NewRegistry())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	// Without a server-side transcriber the browser's recognition is relayed.
	if providers.STT == nil {
		providers.STT = relay.New(0)
		slog.Info("no stt provider configured, relaying client transcripts")
	}

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(logLevel))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	code := 0
	if *mcpStdio {
		code = serveStdio(ctx, application)
	} else {
		bootstrap.PrintStartupSummary(os.Stdout, cfg)
		code = serveHTTP(ctx, cfg, application, providers, telemetry.Handler(), splitOrigins(*origins))
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

func serveStdio(ctx context.Context, a *app.App) int {
	slog.Info("serving MCP over stdio")
	if err := mcpserver.New(a).RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp stdio error", "err", err)
		return 1
	}
	return 0
}

func serveHTTP(ctx context.Context, cfg *config.Config, a *app.App, providers *app.Providers, metrics http.Handler, origins []string) int {
	opts := []api.Option{api.WithOriginPatterns(origins...), api.WithMetricsHandler(metrics)}
	if r, ok := providers.STT.(*relay.Provider); ok {
		opts = append(opts, api.WithRelay(r))
	}
	if cfg.Server.MCP {
		opts = append(opts, api.WithMCP(mcpserver.New(a).Handler()))
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.New(a, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	return 0
}

func splitOrigins(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
