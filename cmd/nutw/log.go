package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
)

var (
	logRotator *rotator.Rotator
	logPipe    *io.PipeWriter
)

// setupLogger writes logs to a rotated file under the wallet directory.
func setupLogger(walletPath, level string) (*slog.Logger, error) {
	logDir := filepath.Join(walletPath, "logs")
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, fmt.Errorf("error creating log directory: %v", err)
	}

	r, err := rotator.New(filepath.Join(logDir, "nutw.log"), 10*1024, false, 3)
	if err != nil {
		return nil, fmt.Errorf("error creating log rotator: %v", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)
	logRotator = r
	logPipe = pw

	handler := slog.NewTextHandler(pw, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func closeLogger() {
	if logPipe != nil {
		logPipe.Close()
	}
	if logRotator != nil {
		logRotator.Close()
	}
}
