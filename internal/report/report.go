// Package report forwards unexpected failures to an out-of-band error
// tracker (Sentry). Reporting never blocks or fails a request: when no DSN
// is configured every call is a cheap no-op and the error only hits the log.
package report

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/agentfront/agent-front/internal/log"
)

var enabled atomic.Bool

// Init configures the error tracker. An empty DSN disables reporting.
func Init(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return err
	}

	enabled.Store(true)
	return nil
}

// Flush drains buffered events on shutdown.
func Flush() {
	if enabled.Load() {
		sentry.Flush(2 * time.Second)
	}
}

// CaptureError reports an error with request context. Token-valued fields
// must be masked by the caller before they get here.
func CaptureError(err error, component string, fields map[string]any) {
	log.LogErrorWithFields(component, err.Error(), fields)

	if !enabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// MaskToken reduces a credential to a loggable stub: first six characters
// plus length, enough to correlate without being replayable.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}
