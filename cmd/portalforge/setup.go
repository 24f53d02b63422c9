package main

import (
	"fmt"

	"github.com/cuemby/portalforge/pkg/autonomy"
	"github.com/cuemby/portalforge/pkg/plog"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/pure"
	"github.com/cuemby/portalforge/pkg/registry"
)

// demoFns holds every pure function this demo CLI registers, keyed by
// role, so command handlers and a freshly-rebuilt descendant process alike
// can reach the same PureFn after calling setupPortal.
type demoFns struct {
	Factorial *pure.PureFn
	Fib       *pure.PureFn
	IsEven    *pure.PureFn
	IsOdd     *pure.PureFn
}

// setupPortal opens the portal rooted at dir and registers every demo
// function against it. It is called both by the ancestor process's own
// command handlers and, via swarm.Bootstrap, by every descendant
// subprocess; a descendant must rebuild the exact same registrations so
// pkg/pure.Lookup can resolve a sampled execution request back to a
// runnable PureFn in its own process.
func setupPortal(dir string) (*portal.Portal, *plog.LogPortal, *pure.Stores, *demoFns, error) {
	p, err := portal.Open(registry.Global, dir)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("portalforge: failed to open portal at %s: %w", dir, err)
	}

	lp, err := plog.Open(p)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	stores, err := pure.OpenStoresForPortal(p)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	fns, err := registerDemoFns(p, lp, stores)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return p, lp, stores, fns, nil
}

// registerDemoFns wires up the demo functions: memoized factorial,
// replayed fibonacci, and isEven/isOdd. Go has no runtime eval, so each
// normalized source string identifies the function for hashing/display
// purposes only; the registered Go closure is what actually runs,
// recursing through its own PureFn.Execute so every recursive call is
// itself memoized, protected, and logged exactly like the outermost
// call.
func registerDemoFns(p *portal.Portal, lp *plog.LogPortal, stores *pure.Stores) (*demoFns, error) {
	fns := &demoFns{}

	factorialAF, err := autonomy.Register(`func factorial(n int) int {
	if n == 0 || n == 1 {
		return 1
	}
	return n * factorial(n-1)
}`, nil, p)
	if err != nil {
		return nil, err
	}
	fns.Factorial = pure.New(factorialAF.Fn, p, lp, stores, nil, nil)

	fibAF, err := autonomy.Register(`func fib(n int) int {
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 1
	}
	return fib(n-1) + fib(n-2)
}`, nil, p)
	if err != nil {
		return nil, err
	}
	fns.Fib = pure.New(fibAF.Fn, p, lp, stores, nil, nil)

	// A *pure.PureFn is not itself a content-addressable value (it isn't
	// serializable the way an int or string is), so instead of taking each
	// other as function-valued kwargs, isEven and isOdd each recurse on
	// their own name with a stride of 2, which keeps both autonomous.
	isEvenAF, err := autonomy.Register(`func isEven(n int) bool {
	if n == 0 {
		return true
	}
	if n == 1 {
		return false
	}
	return isEven(n - 2)
}`, nil, p)
	if err != nil {
		return nil, err
	}
	fns.IsEven = pure.New(isEvenAF.Fn, p, lp, stores, nil, nil)

	isOddAF, err := autonomy.Register(`func isOdd(n int) bool {
	if n == 0 {
		return false
	}
	if n == 1 {
		return true
	}
	return isOdd(n - 2)
}`, nil, p)
	if err != nil {
		return nil, err
	}
	fns.IsOdd = pure.New(isOddAF.Fn, p, lp, stores, nil, nil)

	registerDemoClosures(factorialAF.Fn.Name, fibAF.Fn.Name, isEvenAF.Fn.Name, isOddAF.Fn.Name, fns)

	return fns, nil
}
