package main

import (
	"fmt"

	"github.com/cuemby/portalforge/pkg/fn"
)

// registerDemoClosures binds the real Go implementations backing each demo
// PureFn, keyed under the same names registerDemoFns derived from
// normalizing the demo source strings. Every recursive step goes back
// through the owning PureFn's own Execute so it is memoized, protected,
// and logged exactly like the initial call.
func registerDemoClosures(factorialName, fibName, isEvenName, isOddName string, fns *demoFns) {
	fn.Register(factorialName, func(kw fn.KwArgs) (any, error) {
		n, err := intArg(kw, "n")
		if err != nil {
			return nil, err
		}
		if n == 0 || n == 1 {
			return 1, nil
		}
		sub, err := fns.Factorial.Execute(fn.KwArgs{"n": n - 1})
		if err != nil {
			return nil, err
		}
		subN, err := asInt(sub)
		if err != nil {
			return nil, err
		}
		return n * subN, nil
	})

	fn.Register(fibName, func(kw fn.KwArgs) (any, error) {
		n, err := intArg(kw, "n")
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return 0, nil
		}
		if n == 1 {
			return 1, nil
		}
		a, err := fns.Fib.Execute(fn.KwArgs{"n": n - 1})
		if err != nil {
			return nil, err
		}
		b, err := fns.Fib.Execute(fn.KwArgs{"n": n - 2})
		if err != nil {
			return nil, err
		}
		aN, err := asInt(a)
		if err != nil {
			return nil, err
		}
		bN, err := asInt(b)
		if err != nil {
			return nil, err
		}
		return aN + bN, nil
	})

	fn.Register(isEvenName, func(kw fn.KwArgs) (any, error) {
		n, err := intArg(kw, "n")
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return true, nil
		}
		if n == 1 {
			return false, nil
		}
		result, err := fns.IsEven.Execute(fn.KwArgs{"n": n - 2})
		if err != nil {
			return nil, err
		}
		return result, nil
	})

	fn.Register(isOddName, func(kw fn.KwArgs) (any, error) {
		n, err := intArg(kw, "n")
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return false, nil
		}
		if n == 1 {
			return true, nil
		}
		result, err := fns.IsOdd.Execute(fn.KwArgs{"n": n - 2})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

func intArg(kw fn.KwArgs, key string) (int, error) {
	v, ok := kw[key]
	if !ok {
		return 0, fmt.Errorf("portalforge: missing required argument %q", key)
	}
	return asInt(v)
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("portalforge: expected an integer argument, got %T", v)
	}
}
