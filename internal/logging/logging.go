package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger with console and file output at info level.
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel creates a zerolog logger with console and file output.
// Unparseable levels fall back to info; a log file that cannot be opened
// degrades to console-only output rather than failing startup.
func NewWithLevel(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logPath := LogPath()
	os.MkdirAll(filepath.Dir(logPath), 0755)

	var out zerolog.LevelWriter
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		out = zerolog.MultiLevelWriter(console)
	} else {
		out = zerolog.MultiLevelWriter(console, logFile)
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()
	if err != nil {
		logger.Warn().Err(err).Str("path", logPath).Msg("Log file unavailable, console only")
	}
	return logger
}

// LogPath returns the platform-specific log file path
func LogPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "voicekey", "voicekey.log")
}
