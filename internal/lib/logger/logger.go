package logger

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const logFile = "emme7.log"

// SetupLogger returns a text logger for local runs and a JSON logger that
// writes to stdout and to a file in logPath otherwise.
func SetupLogger(env, logPath string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case envLocal:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev, envProd:
		level := slog.LevelDebug
		if env == envProd {
			level = slog.LevelInfo
		}
		var out io.Writer = os.Stdout
		if logPath != "" {
			f, err := os.OpenFile(filepath.Join(logPath, logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				log.Printf("log file: %v, logging to stdout only", err)
			} else {
				out = io.MultiWriter(os.Stdout, f)
			}
		}
		logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	default:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return logger
}
