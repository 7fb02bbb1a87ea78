package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

// SetupLogger installs the default slog logger. Format is "json" or "text".
func SetupLogger(w io.Writer, level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(h))
}
