package backendapi

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the error taxonomy in spec.md §7 an
// error belongs to, so callers can switch on errors.As without string
// matching.
type Kind string

const (
	KindTransient          Kind = "transient_backend"
	KindPermanent          Kind = "permanent_backend"
	KindNotFound           Kind = "not_found"
	KindAlreadyExists      Kind = "already_exists"
	KindUsageAnomaly       Kind = "usage_anomaly"
	KindConfiguration      Kind = "configuration"
	KindCollision          Kind = "collision"
)

// Error is the taxonomy error type. Processors branch on Kind to decide
// retry, no-op, or terminal handling.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "create_resource"
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports equality by Kind, so errors.Is(err, &Error{Kind: KindNotFound})
// matches any NotFound error regardless of Op/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Transient wraps cause as a retryable backend error.
func Transient(op string, cause error) *Error { return newErr(KindTransient, op, cause) }

// Permanent wraps cause as a non-retryable backend error.
func Permanent(op string, cause error) *Error { return newErr(KindPermanent, op, cause) }

// NotFound reports a missing resource/user/order.
func NotFound(op string, cause error) *Error { return newErr(KindNotFound, op, cause) }

// AlreadyExists reports a create-conflict that should be treated as success.
func AlreadyExists(op string, cause error) *Error { return newErr(KindAlreadyExists, op, cause) }

// Configuration reports a fatal misconfiguration at driver construction.
func Configuration(op string, cause error) *Error { return newErr(KindConfiguration, op, cause) }

// Collision reports that backend-id generation exhausted its retries.
func Collision(op string, cause error) *Error { return newErr(KindCollision, op, cause) }

// UsageAnomaly reports a rejected usage submission: a new total that
// regressed against an existing record, or more than one existing record
// for a single (resource, component, period) — treated as data corruption
// (spec.md §7). Never retried.
func UsageAnomaly(op string, cause error) *Error { return newErr(KindUsageAnomaly, op, cause) }

// IsNotFound reports whether err is (or wraps) a NotFound error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// IsAlreadyExists reports whether err is (or wraps) an AlreadyExists error.
func IsAlreadyExists(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAlreadyExists
}

// IsTransient reports whether err is (or wraps) a TransientBackendError,
// the only kind the retry wrapper should retry.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}
