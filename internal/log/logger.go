// Package log builds the process-wide slog logger shared by the server
// and worker binaries.
package log

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// Setup constructs a logger for the given level ("debug", "info", "warn",
// "error") and format ("text", "json") and installs it as the slog
// default. Text output uses tint for readable local development logs;
// json is the deployment format.
func Setup(level, format string) *slog.Logger {
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: parseLevel(level)})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
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
