// Package retry wraps the per-operation retry budget used by the
// reconciliation processors (spec.md §4.5 step 2, §4.7 step 6): a bounded
// number of attempts with fixed backoff, retried only for transient
// backend errors.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// Options controls a bounded retry loop.
type Options struct {
	Attempts uint
	Backoff  time.Duration
}

// DefaultOptions is the fixed-backoff budget used when a caller does not
// override it.
var DefaultOptions = Options{Attempts: 3, Backoff: 2 * time.Second}

// WithBackoff runs fn up to opts.Attempts times with a fixed delay of
// opts.Backoff between attempts, retrying only when fn's error is a
// backendapi.Error of kind Transient. Any other error, including a
// backendapi UsageAnomaly, is returned immediately without further
// attempts (spec.md §4.7 step 6: "anomaly rejection is not retried").
func WithBackoff(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	return retrygo.Do(
		func() error { return fn(ctx) },
		retrygo.Context(ctx),
		retrygo.Attempts(opts.Attempts),
		retrygo.Delay(opts.Backoff),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			return backendapi.IsTransient(err)
		}),
	)
}
