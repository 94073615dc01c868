package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the printf-style logger used across workdesk.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger extends Logger with structured fields.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type glogLogger struct {
	logger glog.Logger
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) Logger {
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

// New builds a glog-backed logger writing to w (stderr when nil).
func New(cfg Config, w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}
	if strings.EqualFold(cfg.Format, "json") {
		return glogLogger{logger: glog.NewLogger(
			glog.WithWriter(w),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		)}
	}
	return glogLogger{logger: glog.NewLogger(
		glog.WithWriter(w),
		glog.WithLevel(level),
	)}
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() Logger {
	return New(Config{Level: "error", Format: "json"}, io.Discard)
}

// WithFields attaches fields when the logger supports them.
func WithFields(logger Logger, fields map[string]any) Logger {
	if logger == nil {
		return Discard()
	}
	if fl, ok := logger.(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}

// Or returns logger, or a discarding logger when nil.
func Or(logger Logger) Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
