// Command introcoach-tui records a self-introduction on the local
// microphone and coaches it in the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/bootstrap"
	"github.com/MrWong99/introcoach/internal/config"
	"github.com/MrWong99/introcoach/internal/tui"
	"github.com/MrWong99/introcoach/pkg/audio/portaudio"
	"github.com/MrWong99/introcoach/pkg/provider/stt/relay"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	persona := flag.String("persona", "", "evaluator persona ID (see GET /v1/personas)")
	logPath := flag.String("log", "", "write logs to this file; logs are discarded when empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "introcoach-tui: %v\n", err)
		return 1
	}

	// The terminal belongs to the UI, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "introcoach-tui: open log: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger, logLevel := bootstrap.NewLogger(logOut, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := bootstrap.BuildProviders(cfg, bootstrap.NewRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "introcoach-tui: %v\n", err)
		return 1
	}
	if _, ok := providers.STT.(*relay.Provider); ok {
		slog.Warn("relay stt has no client in the terminal, recording without transcription")
		providers.STT = nil
	}

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(logLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "introcoach-tui: %v\n", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if *persona != "" {
		if _, ok := application.Personas().Get(*persona); !ok {
			fmt.Fprintf(os.Stderr, "introcoach-tui: unknown persona %q\n", *persona)
			return 1
		}
	}

	sess, err := application.Sessions().Open(portaudio.New(), "tui")
	if err != nil {
		fmt.Fprintf(os.Stderr, "introcoach-tui: %v\n", err)
		return 1
	}
	defer sess.Close()

	var evaluator tui.Evaluator
	if application.Coach() != nil {
		evaluator = application
	}
	model := tui.New(ctx, sess, evaluator,
		tui.WithPersona(*persona),
		tui.WithLimit(cfg.Session.MaxDuration),
	)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "introcoach-tui: %v\n", err)
		return 1
	}
	return 0
}
