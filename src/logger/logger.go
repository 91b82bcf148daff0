package logger

import (
	"os"
	"strings"

	"market-feed/src/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	sugar  *zap.SugaredLogger
	level  zap.AtomicLevel
	config interface{}
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance.
// config may be a *models.MConfig, a models.MConfig, a level string or nil (INFO).
func NewLogger(config interface{}, name string) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zap.NewAtomicLevelAt(ParseLevel(levelOf(config)))
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		level,
	)

	return &Logger{
		name:   name,
		sugar:  zap.New(core).Named(name).Sugar(),
		level:  level,
		config: config,
	}
}

// -----------------------------------------------------------------------------

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{name: "nop", sugar: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// -----------------------------------------------------------------------------

// FromZap wraps an existing zap logger (tests use zaptest/observer cores).
func FromZap(l *zap.Logger, name string) *Logger {
	return &Logger{name: name, sugar: l.Named(name).Sugar(), level: zap.NewAtomicLevel()}
}

// -----------------------------------------------------------------------------

// Named returns a child logger sharing the same core.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:   l.name + "." + name,
		sugar:  l.sugar.Named(name),
		level:  l.level,
		config: l.config,
	}
}

// -----------------------------------------------------------------------------

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
	_ = l.sugar.Sync()
	os.Exit(1)
}

// -----------------------------------------------------------------------------

// SetLevel changes the level of this logger and every logger Named from it.
// Loggers built with FromZap keep the level of their own core.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(ParseLevel(level))
}

// -----------------------------------------------------------------------------

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// -----------------------------------------------------------------------------

// ParseLevel maps the config spelling (DEBUG, INFO, WARNING, ERROR) to a zap level.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARNING", "WARN":
		return zapcore.WarnLevel
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func levelOf(config interface{}) string {
	switch c := config.(type) {
	case *models.MConfig:
		if c != nil {
			return c.LogLevel
		}
	case models.MConfig:
		return c.LogLevel
	case string:
		return c
	}
	return "INFO"
}
