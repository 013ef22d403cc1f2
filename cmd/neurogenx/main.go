// Command neurogenx runs the model-search orchestrator and its HTTP API.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/neurogenx/neurogenx"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env before reading the logging variables; neurogenx.New loads
	// it again for the rest of the config, which is harmless.
	_ = godotenv.Load()

	logger := newLogger(os.Stdout, os.Getenv("NGX_LOG_LEVEL"), os.Getenv("NGX_LOG_FORMAT"))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := neurogenx.New(
		neurogenx.WithLogger(logger),
		neurogenx.WithVersion(version),
	)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// newLogger builds the root logger: JSON by default, tint for "text" with
// colour only when w is a terminal.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLevel(level)
	if strings.EqualFold(format, "text") {
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			NoColor:    noColor,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
