// Package logger provides the server's structured logging. Error/diagnostic
// logging and access logging are separate sinks with independently
// configurable targets; both emit one JSON object per line via zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SJJC-Team/whooshing-vapor/internal/config"
)

// LogFields carries structured key/value context for a log entry.
type LogFields map[string]interface{}

// Logger is the general logger holding the error and access sinks.
type Logger struct {
	errorLog  zerolog.Logger
	accessLog *AccessLogger

	mu      sync.Mutex
	outputs []io.Closer // file targets we opened and must close
}

// AccessLogger writes one JSON entry per completed request.
type AccessLogger struct {
	log zerolog.Logger
}

// NewLogger creates and configures a Logger from the logging configuration.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	l := &Logger{}

	errorTarget := "stderr"
	if cfg.ErrorLog != nil {
		errorTarget = cfg.ErrorLog.Target
	}
	errorOut, closer, err := openTarget(errorTarget, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("error log: %w", err)
	}
	if closer != nil {
		l.outputs = append(l.outputs, closer)
	}
	l.errorLog = zerolog.New(errorOut).
		Level(zerologLevel(cfg.LogLevel)).
		With().Timestamp().Logger()

	if cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled) {
		accessOut, closer, err := openTarget(cfg.AccessLog.Target, os.Stdout)
		if err != nil {
			l.CloseLogFiles()
			return nil, fmt.Errorf("access log: %w", err)
		}
		if closer != nil {
			l.outputs = append(l.outputs, closer)
		}
		l.accessLog = &AccessLogger{
			log: zerolog.New(accessOut).With().Timestamp().Logger(),
		}
	}

	return l, nil
}

// NewTestLogger returns a Logger writing error entries to w at DEBUG level,
// with access logging disabled. For use in tests.
func NewTestLogger(w io.Writer) *Logger {
	return &Logger{
		errorLog: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger(),
	}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{errorLog: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}

// openTarget resolves a configured log target to a writer. For file targets
// the returned closer is non-nil and owned by the caller.
func openTarget(target string, std *os.File) (io.Writer, io.Closer, error) {
	switch target {
	case "", "stderr":
		if target == "" {
			return std, nil, nil
		}
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	default:
		if !config.IsFilePath(target) {
			return nil, nil, fmt.Errorf("invalid log target %q", target)
		}
		f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", target, err)
		}
		return f, f, nil
	}
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelInfo:
		return zerolog.InfoLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Debug logs a DEBUG-severity entry with structured fields.
func (l *Logger) Debug(msg string, fields LogFields) {
	l.emit(l.errorLog.Debug(), msg, fields)
}

// Info logs an INFO-severity entry with structured fields.
func (l *Logger) Info(msg string, fields LogFields) {
	l.emit(l.errorLog.Info(), msg, fields)
}

// Warn logs a WARNING-severity entry with structured fields.
func (l *Logger) Warn(msg string, fields LogFields) {
	l.emit(l.errorLog.Warn(), msg, fields)
}

// Error logs an ERROR-severity entry with structured fields.
func (l *Logger) Error(msg string, fields LogFields) {
	l.emit(l.errorLog.Error(), msg, fields)
}

// Access writes an access log entry for a completed request. A nil or
// disabled access sink makes this a no-op.
func (l *Logger) Access(remoteAddr, method, uri string, status int, responseBytes int64, duration time.Duration, requestID string) {
	if l.accessLog == nil {
		return
	}
	l.accessLog.log.Log().
		Str("remote_addr", remoteAddr).
		Str("method", method).
		Str("uri", uri).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds()).
		Str("request_id", requestID).
		Send()
}

// CloseLogFiles closes any file targets this logger opened. Standard
// streams are never closed.
func (l *Logger) CloseLogFiles() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, c := range l.outputs {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.outputs = nil
	return firstErr
}
