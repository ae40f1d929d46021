// Package logger implements the structured logger used throughout this
// module: a log/slog logger with filesystem-flavored severity levels
// (TRACE, DEBUG, INFO, WARNING, ERROR) and a choice of JSON or text
// output, selected by config.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Severity levels. slog.Level is an int; these sit below/above the
// standard Debug/Info/Warn/Error levels so TRACE has room underneath Debug.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

var severityNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

type factory struct{}

var defaultLoggerFactory factory

// createJsonOrTextHandler returns a slog.Handler that writes to w, gating on
// level, rendering each record as either a single JSON object or a
// quoted-field text line, and replacing slog's "level"/"time" attributes
// with "severity" and a fixed-format timestamp.
func (factory) createJsonOrTextHandler(w io.Writer, level slog.Leveler, format string, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				lvl, _ := a.Value.Any().(slog.Level)
				name, ok := severityNames[lvl]
				if !ok {
					name = lvl.String()
				}
				return slog.String("severity", name)
			case slog.TimeKey:
				return slog.String("time", a.Value.Time().Format("2006/01/02 15:04:05.000000"))
			case slog.MessageKey:
				return slog.String("message", prefix+a.Value.String())
			}
			return a
		},
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, LevelInfo, "text", ""))

// Init reconfigures the default logger. format is "json" or "text"; level
// names are case-insensitive TRACE/DEBUG/INFO/WARNING/ERROR, defaulting to
// INFO on an unrecognized value.
func Init(format, level string) {
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, parseLevel(level), format, ""))
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARNING", "WARN":
		return LevelWarning
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	defaultLogger.Log(context.Background(), level, msg)
}

func Tracef(format string, args ...any) { log(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { log(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { log(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { log(LevelWarning, format, args...) }
func Errorf(format string, args ...any) { log(LevelError, format, args...) }
