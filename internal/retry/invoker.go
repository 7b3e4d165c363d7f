// Package retry wraps calls in exponential backoff, using
// github.com/cenkalti/backoff/v4 the same way the teacher's
// internal/impl/aws/input_kinesis.go leans on it for AWS SDK retries:
// a backoff.BackOff policy plus a predicate deciding what's retryable.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/cerrors"
)

// Profile configures one backoff policy per §4.2.
type Profile struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultProfile is the general HTTP retry profile: 30s initial, x2, cap
// 120s, up to 100 attempts.
var DefaultProfile = Profile{
	InitialInterval: 30 * time.Second,
	Multiplier:      2,
	MaxInterval:     120 * time.Second,
	MaxAttempts:     100,
}

// OAuthProfile is the token-refresh retry profile: 1s initial, x2, cap
// 30s, up to 10 attempts.
var OAuthProfile = Profile{
	InitialInterval: 1 * time.Second,
	Multiplier:      2,
	MaxInterval:     30 * time.Second,
	MaxAttempts:     10,
}

func (p Profile) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0 // bounded by MaxAttempts instead, via WithMaxRetries
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// Invoker retries fn under profile, logging one warn-level protocol LOG
// message per retry attempt (§4.7 "LOG message emission for retries").
// fn's error is classified by walking its Unwrap chain: a
// *cerrors.ClientFaultError anywhere in the chain is treated as permanent
// and stops retrying immediately; every other error is retried, matching
// "retries on any failure EXCEPT... a client-fault signal".
type Invoker struct {
	profile Profile
	logger  *logrus.Logger
}

// NewInvoker builds an Invoker for profile, logging attempts via logger.
func NewInvoker(profile Profile, logger *logrus.Logger) *Invoker {
	return &Invoker{profile: profile, logger: logger}
}

// WithRetry invokes fn, retrying on transient failures per the invoker's
// profile. The call is cancellable via ctx at any point between attempts.
func (inv *Invoker) WithRetry(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var clientFault *cerrors.ClientFaultError
		if isClientFault(err, &clientFault) {
			return backoff.Permanent(err)
		}

		if inv.logger != nil {
			inv.logger.WithFields(logrus.Fields{
				"attempt": attempt,
			}).Warn("retrying after transient failure")
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(inv.profile.backOff(), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return cerrors.Cancelled
		}
	}
	return err
}

func isClientFault(err error, target **cerrors.ClientFaultError) bool {
	for err != nil {
		if cf, ok := err.(*cerrors.ClientFaultError); ok {
			*target = cf
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
