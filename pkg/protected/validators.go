// Package protected implements validated execution (L6 of the portal
// stack): an autonomous function gains a list of pre- and post-validators
// that gate a call before and after it runs, shuffled into random order
// each attempt so no caller can depend on validator ordering.
package protected

import (
	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/portal"
)

// ValidationResult is the outcome a validator reports. Callers must
// compare against Successful explicitly, never treat any non-zero result
// as passing.
type ValidationResult int

const (
	// Failed is returned by a validator that rejects a call or its result.
	Failed ValidationResult = iota
	// Successful is returned by a validator that accepts a call or result.
	Successful
)

// PreValidator inspects a call's packed arguments and the function's
// address before execution. It returns Successful to allow the call, a
// non-nil prerequisite CallSignature if some other call must run first
// (the caller is expected to execute it and re-validate), or Failed to
// reject the call outright.
type PreValidator func(packed fn.PackedKwArgs, fnAddr portal.HashAddr) (result ValidationResult, prerequisite *fn.CallSignature, err error)

// PostValidator inspects a call's packed arguments, the function's
// address, and its result after execution. It returns Successful to accept
// the result, or Failed to reject it.
type PostValidator func(packed fn.PackedKwArgs, fnAddr portal.HashAddr, result any) (ValidationResult, error)
