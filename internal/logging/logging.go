// Package logging builds the process-wide *slog.Logger.
//
// Usage:
//
//	logger, err := logging.New(os.Stdout, "json", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("server starting", slog.Int("port", 3001))
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New creates a logger writing to w.
//
//	text   → slog.TextHandler (key=value, the default)
//	json   → slog.JSONHandler (for log shippers)
//	pretty → coloured console output for local development
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch format {
	case "", "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "pretty":
		h = tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.Kitchen, AddSource: lvl == slog.LevelDebug})
	default:
		return nil, fmt.Errorf("invalid logging format: %s, must be 'text', 'json' or 'pretty'", format)
	}
	return slog.New(h), nil
}

// ParseLevel accepts debug, info, warn and error (case-insensitive).
func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return 0, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error'", level)
	}
	return lvl, nil
}
