package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter sends fatal errors to Sentry. The zero value discards them.
type Reporter struct {
	enabled bool
}

func NewReporter(dsn, environment, release string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, err
	}

	return &Reporter{enabled: true}, nil
}

// Capture reports err and waits up to timeout for delivery.
func (r *Reporter) Capture(err error, timeout time.Duration) {
	if r == nil || !r.enabled || err == nil {
		return
	}
	sentry.CaptureException(err)
	sentry.Flush(timeout)
}
