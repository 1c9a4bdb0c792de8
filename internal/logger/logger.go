// Package logger configures the process-wide slog handler.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Setup installs a colorized stderr handler as the default logger. Source
// locations are attached only at debug level, where chunk-by-chunk stream
// logging makes them worth the noise.
func Setup(level string) {
	lvl := parseLevel(level)
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
		AddSource:  lvl == slog.LevelDebug,
	})))
}

// parseLevel maps the configured level string; unknown values mean info.
func parseLevel(level string) slog.Level {
	switch level {
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
