package logging

import (
	"log/slog"
	"strings"
)

// LevelFromString maps a configured level name to a slog.Level,
// falling back to Info for nil or unrecognized values.
func LevelFromString(str *string) slog.Level {
	if str == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(strings.TrimSpace(*str)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
