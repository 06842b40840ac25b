// Package retry implements fetch-with-retry: a bounded number of attempts with an
// exponentially growing delay, after which the resource is treated as absent.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

type Policy struct {
	Attempts     int
	InitialDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, InitialDelay: 500 * time.Millisecond}
}

// Fetch calls fetch until it succeeds or Attempts calls have failed, doubling the
// delay between calls. Exhausting the attempts reports found=false with a nil error;
// only context cancellation is returned as an error.
func Fetch[T any](ctx context.Context, p Policy, fetch func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.InitialDelay << p.Attempts
	b.Reset()

	attempt := 0
	v, err := backoff.Retry(ctx,
		func() (T, error) {
			attempt++
			return fetch(ctx)
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithFields(log.Fields{"attempt": attempt, "retry_in": next}).WithError(err).Debug("Fetch failed, retrying")
		}),
	)
	if err == nil {
		return v, true, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, false, ctxErr
	}
	log.WithField("attempts", attempt).WithError(err).Warn("Fetch gave up, treating resource as absent")
	return zero, false, nil
}
