// Package logger configures the process-wide structured logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/phuslu/log"
)

// Logger is the process-wide logger instance, configured by Init.
var Logger log.Logger

// Config controls the logger's format and verbosity.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // console, json
	Color  bool
}

// Init configures Logger and installs it as phuslu/log's default logger,
// so package-level log.Debug()/log.Info()/... calls elsewhere pick it up.
func Init(cfg Config) {
	level := ParseLevel(cfg.Level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		Logger = log.Logger{
			Level:      level,
			TimeFormat: time.RFC3339,
			Writer:     &log.IOWriter{Writer: os.Stdout},
		}
	default:
		Logger = log.Logger{
			Level:      level,
			TimeFormat: "15:04:05.000",
			Writer: &log.ConsoleWriter{
				ColorOutput:    cfg.Color && IsTerminal(),
				QuoteString:    true,
				EndWithMessage: true,
				Writer:         os.Stdout,
			},
		}
	}

	log.DefaultLogger = Logger
}

// ParseLevel maps a configured level name to a phuslu/log level, defaulting
// to Info for anything unrecognized.
func ParseLevel(level string) log.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "FATAL":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
