package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"onboardr/pkg/errors"
)

const flushTimeout = 2 * time.Second

// Tracker reports orchestration failures to Sentry
type Tracker struct {
	hub *sentry.Hub
}

// Options configures the Sentry client
type Options struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
}

// New initializes the Sentry SDK and returns a tracker bound to its hub
func New(opts Options) (*Tracker, error) {
	if opts.DSN == "" {
		return nil, errors.Wrap(errors.ErrConfig, "sentry DSN is empty")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		ServerName:  opts.ServerName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init sentry")
	}

	return &Tracker{
		hub: sentry.CurrentHub(),
	}, nil
}

// CaptureError sends an error to Sentry. Tags such as agent id and event type
// become searchable Sentry tags.
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	if err == nil {
		return nil
	}

	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if ctx.Err() != nil {
			scope.SetTag("context_state", ctx.Err().Error())
		}
	})

	hub.CaptureException(err)
	return nil
}

// CaptureMessage sends a message to Sentry
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	hub := t.hub.Clone()

	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetLevel(convertLevel(level))
	})

	hub.CaptureMessage(message)
	return nil
}

// Flush waits for pending events, giving up after two seconds or when ctx ends
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if !t.hub.Flush(timeout) {
		return errors.Wrap(errors.ErrTimeout, "sentry flush")
	}
	return nil
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelInfo:
		return sentry.LevelInfo
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	case errors.LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
