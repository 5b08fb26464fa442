// Package retry applies a bounded retry budget to collaborator calls.
//
// Only errors the caller's classifier marks as transient are retried.
// Business errors (not found, conflicts, bad arguments) return on the first
// attempt. When the budget runs out the last error is wrapped in a
// store.UnavailableError.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/efebarandurmaz/vectordb/internal/store"
)

// Policy configures the retry budget.
type Policy struct {
	MaxAttempts    int           // total attempts, including the first
	Delay          time.Duration // fixed delay between attempts
	AttemptTimeout time.Duration // per-attempt timeout, 0 = none
}

// DefaultPolicy mirrors the budget the metadata store has always used: ten
// attempts, one second apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 10,
		Delay:       time.Second,
	}
}

// ConnectPolicy is used while establishing a collaborator connection.
func ConnectPolicy() Policy {
	return Policy{
		MaxAttempts:    10,
		Delay:          3 * time.Second,
		AttemptTimeout: 3 * time.Second,
	}
}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Retrier binds a policy and classifier to one collaborator.
type Retrier struct {
	store     string
	policy    Policy
	transient Classifier
	logger    *slog.Logger
}

// New creates a Retrier. A nil logger uses slog.Default.
func New(storeName string, policy Policy, transient Classifier, logger *slog.Logger) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{store: storeName, policy: policy, transient: transient, logger: logger}
}

// Policy returns the configured budget.
func (r *Retrier) Policy() Policy { return r.policy }

// IsTransient applies the classifier. Errors already marked with
// store.ErrTransient are always transient; context cancellation never is.
func (r *Retrier) IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, store.ErrTransient) {
		return true
	}
	return r.transient != nil && r.transient(err)
}

// Exec runs fn under the retry budget.
func (r *Retrier) Exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Begin runs fn under r's retry budget like Do, but every attempt receives
// ctx itself. Use it for calls whose result outlives the attempt, such as
// opening a transaction, which a per-attempt timeout would cancel.
func Begin[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	detached := *r
	detached.policy.AttemptTimeout = 0
	return Do(ctx, &detached, op, fn)
}

// Do runs fn under r's retry budget and returns its result.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := 0
	operation := func() (T, error) {
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		}
		res, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(ctx.Err())
		}
		if !r.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, &store.TransientError{Store: r.store, Op: op, Err: err}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.policy.Delay)),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("retrying store operation",
				"store", r.store, "op", op, "attempt", attempts, "next", next, "error", err)
		}),
	)
	if err == nil {
		return res, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	var te *store.TransientError
	if errors.As(err, &te) {
		return res, &store.UnavailableError{Store: r.store, Op: op, Attempts: attempts, Err: te.Err}
	}
	return res, err
}
