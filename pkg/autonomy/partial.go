package autonomy

import (
	"fmt"
	"sort"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/portal"
)

// AutonomousFn wraps an fn.Fn that has passed an autonomy check, carrying
// the allow-list it was validated against plus any fixed (partially
// applied) keyword arguments.
type AutonomousFn struct {
	Fn               *fn.Fn
	AllowedSelectors []string
	FixedKwArgs      fn.KwArgs
}

// Register validates source for autonomy against allowedSelectors, defines
// it as an ordinary fn.Fn in owner, and wraps the result.
func Register(source string, allowedSelectors []string, owner *portal.Portal) (*AutonomousFn, error) {
	if err := AssertAutonomous(source, allowedSelectors); err != nil {
		return nil, err
	}
	f, err := fn.Define(source, owner)
	if err != nil {
		return nil, err
	}
	return &AutonomousFn{Fn: f, AllowedSelectors: allowedSelectors, FixedKwArgs: fn.KwArgs{}}, nil
}

// FixKwArgs returns a new AutonomousFn with kwargs pre-bound in addition to
// any kwargs already fixed on a. Fixing a key that is already fixed is an
// error.
func (a *AutonomousFn) FixKwArgs(kwargs fn.KwArgs) (*AutonomousFn, error) {
	overlap := overlappingKeys(a.FixedKwArgs, kwargs)
	if len(overlap) > 0 {
		return nil, fmt.Errorf("autonomy: overlapping kwargs with already-fixed kwargs: %v", overlap)
	}

	merged := make(fn.KwArgs, len(a.FixedKwArgs)+len(kwargs))
	for k, v := range a.FixedKwArgs {
		merged[k] = v
	}
	for k, v := range kwargs {
		merged[k] = v
	}

	return &AutonomousFn{Fn: a.Fn, AllowedSelectors: a.AllowedSelectors, FixedKwArgs: merged}, nil
}

// CallKwArgs merges call-time kwargs with the fixed kwargs, rejecting any
// overlap between the two (a caller must never re-supply an argument that
// was already partially applied).
func (a *AutonomousFn) CallKwArgs(kwargs fn.KwArgs) (fn.KwArgs, error) {
	overlap := overlappingKeys(a.FixedKwArgs, kwargs)
	if len(overlap) > 0 {
		return nil, fmt.Errorf("autonomy: overlapping kwargs with fixed kwargs: %v", overlap)
	}

	merged := make(fn.KwArgs, len(a.FixedKwArgs)+len(kwargs))
	for k, v := range kwargs {
		merged[k] = v
	}
	for k, v := range a.FixedKwArgs {
		merged[k] = v
	}
	return merged, nil
}

func overlappingKeys(a, b fn.KwArgs) []string {
	var overlap []string
	for k := range a {
		if _, ok := b[k]; ok {
			overlap = append(overlap, k)
		}
	}
	sort.Strings(overlap)
	return overlap
}
