package logging

import (
	"log/slog"
	"os"
)

// Init installs the default slog logger. The call screen owns stdout, so
// logs go to stderr and stay quiet unless LOG_LEVEL asks for more.
func Init() {
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: Level(os.Getenv("LOG_LEVEL")),
		}),
	))
}

// Level maps a LOG_LEVEL value to a slog level. Unknown values fall back to
// errors only.
func Level(name string) slog.Level {
	switch name {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
