// Package obs contains observability utilities: logging, metrics and tracing.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the global structured logger used by the service.
//
// Logger is exported to allow other packages to use it for logging. It starts
// as slog.Default so packages used before InitLogger still log somewhere.
var Logger = slog.Default()

// InitLogger initializes the global Logger with a JSON handler at the given
// level ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func InitLogger(level ...string) {
	lvl := slog.LevelInfo
	if len(level) > 0 && level[0] != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level[0]))); err != nil {
			lvl = slog.LevelInfo
		}
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	Logger = slog.New(h)
}
