package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"onboardr/pkg/errors"
)

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Logger wraps zap.SugaredLogger with optional error tracking
type Logger struct {
	*zap.SugaredLogger
	errorTracker errors.Tracker
}

// New builds a standalone logger for the given level and environment
func New(level string, env string) (*Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zl, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zl.Sugar()}, nil
}

// Init initializes the process-wide logger
func Init(level string, env string) error {
	l, err := New(level, env)
	if err != nil {
		return err
	}

	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
	return nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// SetErrorTracker attaches an error tracker to the process-wide logger
func SetErrorTracker(tracker errors.Tracker) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger != nil {
		globalLogger.errorTracker = tracker
	}
}

// Get returns the process-wide logger
func Get() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		zl, _ := zap.NewDevelopment()
		globalLogger = &Logger{SugaredLogger: zl.Sugar()}
	}
	return globalLogger
}

// With creates a child logger with additional fields
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		errorTracker:  l.errorTracker,
	}
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Error logs an error and forwards it to the error tracker
func (l *Logger) Error(args ...interface{}) {
	l.SugaredLogger.Error(args...)

	if l.errorTracker != nil {
		_ = l.errorTracker.CaptureError(context.Background(), errors.Newf("%v", fmt.Sprint(args...)), map[string]string{
			"component": "logger",
		})
	}
}

// Errorw logs an error with key/value pairs and forwards it to the error tracker
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)

	if l.errorTracker != nil {
		_ = l.errorTracker.CaptureError(context.Background(), errors.New(msg), map[string]string{
			"component": "logger",
		})
	}
}

// ErrorWithContext logs an error and sends it to the tracker with tags
func (l *Logger) ErrorWithContext(ctx context.Context, err error, tags map[string]string) {
	l.SugaredLogger.Errorw(err.Error(), "tags", tags)

	if l.errorTracker != nil {
		_ = l.errorTracker.CaptureError(ctx, err, tags)
	}
}

// Sync flushes any buffered log entries
func Sync() error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
