// Package portalerr defines the sentinel errors every portal layer wraps
// with fmt.Errorf("...: %w", err), so callers can use errors.Is instead of
// matching on message text.
package portalerr

import "errors"

var (
	// ErrNotFound is returned when a key, address, or registered name has
	// no corresponding entry.
	ErrNotFound = errors.New("portalforge: not found")

	// ErrTimeout is returned when pure.PureFn.Get's bounded wait for a
	// result exceeds its deadline.
	ErrTimeout = errors.New("portalforge: timed out")

	// ErrValidationFailed is returned by protected.ProtectedFn.Execute when
	// a pre-validator rejects a call or a post-validator rejects its result.
	ErrValidationFailed = errors.New("portalforge: validation failed")

	// ErrConcurrencyMisuse is returned when a portal or registry operation
	// is attempted from a goroutine other than the one that created it, or
	// when re-entrancy depth exceeds its bound.
	ErrConcurrencyMisuse = errors.New("portalforge: concurrency misuse")

	// ErrConfigMisuse is returned for a swarm.Config that combines an exact
	// worker count with min/max bounds, and for setting the registry's
	// default portal instantiator a second time.
	ErrConfigMisuse = errors.New("portalforge: configuration misuse")

	// ErrAutonomyViolation is returned when a function registered with an
	// autonomous portal references a name outside its allowed selectors or
	// contains a go statement.
	ErrAutonomyViolation = errors.New("portalforge: autonomy violation")

	// ErrOrdinarityViolation is returned when a function's source fails
	// the ordinary-function normalization checks (not exactly one
	// top-level func decl, a method, variadic, or an empty body).
	ErrOrdinarityViolation = errors.New("portalforge: ordinarity violation")

	// ErrAppendOnlyViolation is returned when a caller attempts to
	// overwrite an existing key in an append-only store.
	ErrAppendOnlyViolation = errors.New("portalforge: append-only store violation")

	// ErrAlreadyRegistered names the duplicate-registration condition. No
	// function in this module returns it: fn.Register panics when a
	// closure name is registered twice.
	ErrAlreadyRegistered = errors.New("portalforge: already registered")
)
