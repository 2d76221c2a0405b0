// Package retry runs an operation again when it fails transiently.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

type Policy struct {
	// MaxTries counts the first attempt. Two means one retry.
	MaxTries     uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// IsTransient decides which errors are worth another attempt. Any
	// other error is returned immediately.
	IsTransient func(error) bool
}

// Once retries a single time after a short delay.
func Once(isTransient func(error) bool) Policy {
	return Policy{
		MaxTries:     2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		IsTransient:  isTransient,
	}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	return b
}

// Do runs op under the policy. The context bounds the whole sequence
// including the waits between attempts.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		res, err := op(ctx)
		if err != nil && (p.IsTransient == nil || !p.IsTransient(err)) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(log.Fields{
			"context":   "retry",
			"operation": name,
			"wait":      wait.String(),
		}).Warn("transient failure, retrying")
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(notify),
	)
}
