// Package username maps an OfferingUser to a local identity-store
// username (spec.md §4.2). It re-architects the source's two-recoverable-
// exception generation path as a closed sum type rather than a pair of
// catchable exception classes (spec.md §9): callers switch on Result.Kind
// instead of wrapping generate_username in try/except.
package username

import (
	"context"

	"github.com/wisbric/sitebridge/pkg/backendapi"
)

// ResultKind distinguishes the four outcomes get_or_create_username can
// produce.
type ResultKind string

const (
	// ResultOK means a username was resolved (found or freshly generated).
	ResultOK ResultKind = "ok"
	// ResultNeedsLinking means an existing local account must be linked
	// manually before a username is usable.
	ResultNeedsLinking ResultKind = "needs_linking"
	// ResultNeedsValidation means further out-of-band validation is
	// required before a username is usable.
	ResultNeedsValidation ResultKind = "needs_validation"
	// ResultError means generation failed for a reason that is not one
	// of the two recoverable cases above; the OfferingUser's prior state
	// is left untouched.
	ResultError ResultKind = "error"
)

// Result is the outcome of a single get_or_create_username call. Exactly
// one of its payload fields is meaningful, selected by Kind.
type Result struct {
	Kind ResultKind

	Username string // set when Kind == ResultOK

	Message string // set when Kind is NeedsLinking or NeedsValidation
	URL     string // optional, accompanies Message

	Err error // set when Kind == ResultError
}

// Ok builds a ResultOK.
func Ok(name string) Result { return Result{Kind: ResultOK, Username: name} }

// NeedsLinking builds a ResultNeedsLinking carrying a user-facing message
// and optional URL.
func NeedsLinking(message, url string) Result {
	return Result{Kind: ResultNeedsLinking, Message: message, URL: url}
}

// NeedsValidation builds a ResultNeedsValidation carrying a user-facing
// message and optional URL.
func NeedsValidation(message, url string) Result {
	return Result{Kind: ResultNeedsValidation, Message: message, URL: url}
}

// Errored builds a ResultError wrapping cause.
func Errored(cause error) Result { return Result{Kind: ResultError, Err: cause} }

// Store is the local identity-store probe: the "does this person already
// have a username" half of get_or_create_username.
type Store interface {
	GetUsername(ctx context.Context, u backendapi.OfferingUser) (string, bool, error)
}

// Generator is the backend-specific half of get_or_create_username,
// invoked on a Store miss. A concrete implementation may return any of
// the four Result kinds; it must never return a zero Result.
type Generator interface {
	GenerateUsername(ctx context.Context, u backendapi.OfferingUser) Result
}

// Manager implements get_or_create_username by probing Store and falling
// back to Generator on a miss (spec.md §4.2).
type Manager struct {
	Store     Store
	Generator Generator
}

// GetOrCreate resolves a username for u, or reports why one cannot yet be
// resolved.
func (m *Manager) GetOrCreate(ctx context.Context, u backendapi.OfferingUser) Result {
	if name, ok, err := m.Store.GetUsername(ctx, u); err != nil {
		return Errored(err)
	} else if ok {
		return Ok(name)
	}
	return m.Generator.GenerateUsername(ctx, u)
}

// NextState computes the OfferingUser state transition the core applies
// in response to a Result (spec.md §4.2's state diagram). The caller is
// responsible for persisting the returned state, username, comment and
// comment URL back to the control plane.
func NextState(current backendapi.OfferingUserState, r Result) (state backendapi.OfferingUserState, username, comment, commentURL string) {
	switch r.Kind {
	case ResultOK:
		return backendapi.UserCreating, r.Username, "", ""
	case ResultNeedsLinking:
		return backendapi.UserPendingAccountLinking, "", r.Message, r.URL
	case ResultNeedsValidation:
		return backendapi.UserPendingAdditionalValidation, "", r.Message, r.URL
	default:
		// Any other failure leaves the user in its prior state; the
		// caller logs r.Err and retries on the next cycle.
		return current, "", "", ""
	}
}

// NeedsGenerationStates are the OfferingUser states the processors invoke
// the manager for, in addition to the empty-username check already
// captured by backendapi.OfferingUser.NeedsGeneration.
var NeedsGenerationStates = map[backendapi.OfferingUserState]bool{
	backendapi.UserRequested:             true,
	backendapi.UserPendingAccountLinking: true,
	backendapi.UserCreating:              true,
}
