package pure

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portalforge/pkg/autonomy"
	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/plog"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/portalerr"
	"github.com/cuemby/portalforge/pkg/protected"
	"github.com/cuemby/portalforge/pkg/registry"
)

// The tests in this file walk full user-level flows through the whole
// stack: recursive memoized functions, validator gating, cross-portal
// result replication, and crash logging.

func TestFactorialMemoization(t *testing.T) {
	p, lp, stores := openTestPortal(t)

	name := "factorial" + t.Name()
	source := fmt.Sprintf(`func %s(n int) int {
	if n == 0 || n == 1 {
		return 1
	}
	return n * %s(n-1)
}`, name, name)
	f, err := fn.Define(source, p)
	require.NoError(t, err)

	var pf *PureFn
	fn.Register(f.Name, func(kw fn.KwArgs) (any, error) {
		n := kw["n"].(int)
		if n == 0 || n == 1 {
			return 1, nil
		}
		sub, err := pf.Execute(fn.KwArgs{"n": n - 1})
		if err != nil {
			return nil, err
		}
		return n * sub.(int), nil
	})
	pf = New(f, p, lp, stores, nil, nil)

	result, err := pf.Execute(fn.KwArgs{"n": 5})
	require.NoError(t, err)
	assert.Equal(t, 120, result)

	nResults, err := stores.Results.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, nResults, "factorial(5) must memoize exactly n=5..1")

	nRequests, err := stores.Requests.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, nRequests, "every completed call must clear its execution request")

	nCrashes, err := lp.CrashHistory().Len()
	require.NoError(t, err)
	assert.Equal(t, 0, nCrashes)
}

func TestFibonacciReplay(t *testing.T) {
	p, lp, stores := openTestPortal(t)

	name := "fib" + t.Name()
	source := fmt.Sprintf(`func %s(n int) int {
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 1
	}
	return %s(n-1) + %s(n-2)
}`, name, name, name)
	f, err := fn.Define(source, p)
	require.NoError(t, err)

	var pf *PureFn
	fn.Register(f.Name, func(kw fn.KwArgs) (any, error) {
		n := kw["n"].(int)
		if n == 0 {
			return 0, nil
		}
		if n == 1 {
			return 1, nil
		}
		a, err := pf.Execute(fn.KwArgs{"n": n - 1})
		if err != nil {
			return nil, err
		}
		b, err := pf.Execute(fn.KwArgs{"n": n - 2})
		if err != nil {
			return nil, err
		}
		return a.(int) + b.(int), nil
	})
	pf = New(f, p, lp, stores, nil, nil)

	for i := 0; i < 5; i++ {
		result, err := pf.Execute(fn.KwArgs{"n": 10})
		require.NoError(t, err)
		assert.Equal(t, 55, result)
	}

	nResults, err := stores.Results.Len()
	require.NoError(t, err)
	assert.Equal(t, 11, nResults, "fib(10) must memoize exactly fib(0)..fib(10), replays add nothing")
}

func TestMutualRecursionWithPartialApplication(t *testing.T) {
	p, lp, stores := openTestPortal(t)

	// isEven and isOdd take each other's registered names as ordinary
	// (content-addressed) string arguments, so each call's identity
	// includes which counterpart it dispatches to.
	evenSource := `func scenarioIsEven(n int, isEven string, isOdd string) bool {
	if n == 0 {
		return true
	}
	return !scenarioIsEven(n-1, isOdd, isEven)
}`
	oddSource := `func scenarioIsOdd(n int, isEven string, isOdd string) bool {
	if n == 0 {
		return false
	}
	return !scenarioIsOdd(n-1, isOdd, isEven)
}`

	afEven, err := autonomy.Register(evenSource, nil, p)
	require.NoError(t, err)
	afOdd, err := autonomy.Register(oddSource, nil, p)
	require.NoError(t, err)

	byName := make(map[string]*PureFn)
	dispatch := func(base bool) fn.Closure {
		return func(kw fn.KwArgs) (any, error) {
			n := kw["n"].(int)
			if n == 0 {
				return base, nil
			}
			// isEven recurses through isOdd and vice versa.
			counterpartName := kw["isOdd"].(string)
			if !base {
				counterpartName = kw["isEven"].(string)
			}
			counterpart := byName[counterpartName]
			return counterpart.Execute(fn.KwArgs{
				"n":      n - 1,
				"isEven": kw["isEven"],
				"isOdd":  kw["isOdd"],
			})
		}
	}
	fn.Register(afEven.Fn.Name, dispatch(true))
	fn.Register(afOdd.Fn.Name, dispatch(false))

	pfEven := New(afEven.Fn, p, lp, stores, nil, nil)
	pfOdd := New(afOdd.Fn, p, lp, stores, nil, nil)
	byName[afEven.Fn.Name] = pfEven
	byName[afOdd.Fn.Name] = pfOdd

	names := fn.KwArgs{"isEven": afEven.Fn.Name, "isOdd": afOdd.Fn.Name}

	odd, err := pfOdd.Execute(fn.KwArgs{"n": 24, "isEven": names["isEven"], "isOdd": names["isOdd"]})
	require.NoError(t, err)
	assert.Equal(t, false, odd)

	even, err := pfEven.Execute(fn.KwArgs{"n": 24, "isEven": names["isEven"], "isOdd": names["isOdd"]})
	require.NoError(t, err)
	assert.Equal(t, true, even)

	// Re-bind via fixed kwargs: each wrapper carries its counterpart names
	// permanently, so call sites only pass n. Results must not change.
	fixedEven, err := afEven.FixKwArgs(names)
	require.NoError(t, err)
	fixedOdd, err := afOdd.FixKwArgs(names)
	require.NoError(t, err)

	mergedOdd, err := fixedOdd.CallKwArgs(fn.KwArgs{"n": 24})
	require.NoError(t, err)
	odd2, err := pfOdd.Execute(mergedOdd)
	require.NoError(t, err)
	assert.Equal(t, false, odd2)

	mergedEven, err := fixedEven.CallKwArgs(fn.KwArgs{"n": 24})
	require.NoError(t, err)
	even2, err := pfEven.Execute(mergedEven)
	require.NoError(t, err)
	assert.Equal(t, true, even2)
}

func TestPreValidatorSuccessDoesNotBlockExecution(t *testing.T) {
	p, lp, stores := openTestPortal(t)
	plain := registerDouble(t, p, lp, stores)

	ran := false
	pass := protected.PreValidator(func(packed fn.PackedKwArgs, fnAddr portal.HashAddr) (protected.ValidationResult, *fn.CallSignature, error) {
		ran = true
		return protected.Successful, nil, nil
	})
	guarded := New(plain.Fn, p, lp, stores, []protected.PreValidator{pass}, nil)

	// The guarded call runs first so it is a cache miss and actually goes
	// through the validator; the plain call afterwards reads the same result.
	result, err := guarded.Execute(fn.KwArgs{"n": 6})
	require.NoError(t, err)
	assert.True(t, ran, "the pre-validator must run on an uncached call")
	assert.Equal(t, 12, result)

	baseline, err := plain.Execute(fn.KwArgs{"n": 6})
	require.NoError(t, err)
	assert.Equal(t, baseline, result, "a passing pre-validator must not change the call's result")
}

func TestPreValidatorFailureIsFatal(t *testing.T) {
	p, lp, stores := openTestPortal(t)
	plain := registerDouble(t, p, lp, stores)

	reject := protected.PreValidator(func(packed fn.PackedKwArgs, fnAddr portal.HashAddr) (protected.ValidationResult, *fn.CallSignature, error) {
		// Anything other than the success sentinel is fatal, including a
		// result that might look truthy to a careless caller.
		return protected.Failed, nil, nil
	})
	guarded := New(plain.Fn, p, lp, stores, []protected.PreValidator{reject}, nil)

	_, err := guarded.Execute(fn.KwArgs{"n": 99})
	require.Error(t, err)
	assert.ErrorIs(t, err, portalerr.ErrValidationFailed)

	nResults, lenErr := stores.Results.Len()
	require.NoError(t, lenErr)
	assert.Equal(t, 0, nResults, "a rejected call must never become a cached result")
}

func TestCrossPortalResultReplication(t *testing.T) {
	reg := registry.New()
	pA, err := portal.Open(reg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pA.Close() })
	lpA, err := plog.Open(pA)
	require.NoError(t, err)
	storesA, err := OpenStores(pA.DB())
	require.NoError(t, err)

	name := "replicated" + t.Name()
	source := fmt.Sprintf(`func %s(n int) int {
	return n * 2
}`, name)
	f, err := fn.Define(source, pA)
	require.NoError(t, err)
	fn.Register(f.Name, func(kw fn.KwArgs) (any, error) {
		return kw["n"].(int) * 2, nil
	})

	pfA := New(f, pA, lpA, storesA, nil, nil)
	resultA, err := pfA.Execute(fn.KwArgs{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, resultA)

	pB, err := portal.Open(reg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pB.Close() })
	lpB, err := plog.Open(pB)
	require.NoError(t, err)
	storesB, err := OpenStores(pB.DB())
	require.NoError(t, err)

	pfB := New(f, pB, lpB, storesB, nil, nil)
	_, _, resultAddr, err := pfB.CallSignature(fn.KwArgs{"n": 21})
	require.NoError(t, err)

	require.True(t, pfB.Ready(resultAddr), "the result computed in portal A must be reachable from portal B")

	nResultsB, err := storesB.Results.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, nResultsB, "a cross-portal hit must replicate the result record into the reading portal")

	resultB, err := pfB.Execute(fn.KwArgs{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, resultB)
}

func TestUncaughtPanicIsLoggedExactlyOnce(t *testing.T) {
	p, lp, stores := openTestPortal(t)

	name := "divider" + t.Name()
	source := fmt.Sprintf(`func %s(a int, b int) int {
	return a / b
}`, name)
	f, err := fn.Define(source, p)
	require.NoError(t, err)
	fn.Register(f.Name, func(kw fn.KwArgs) (any, error) {
		return kw["a"].(int) / kw["b"].(int), nil
	})
	pf := New(f, p, lp, stores, nil, nil)

	_, err = pf.Execute(fn.KwArgs{"a": 1, "b": 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	nCrashes, lenErr := lp.CrashHistory().Len()
	require.NoError(t, lenErr)
	assert.Equal(t, 1, nCrashes)

	keys, keysErr := lp.CrashHistory().Keys()
	require.NoError(t, keysErr)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], time.Now().UTC().Format("2006-01-02")),
		"crash entries are keyed by today's UTC date")

	// The propagated error carries the processed marker, so an outer layer
	// that catches and re-logs it must not add a second entry.
	require.NoError(t, plog.LogException(lp, err))
	nCrashes2, lenErr := lp.CrashHistory().Len()
	require.NoError(t, lenErr)
	assert.Equal(t, 1, nCrashes2)
}

func TestNeedsExecutionFalseAfterMaxAttemptsRegardlessOfAge(t *testing.T) {
	p, lp, stores := openTestPortal(t)
	pf := registerDouble(t, p, lp, stores)

	_, _, resultAddr, err := pf.CallSignature(fn.KwArgs{"n": 77})
	require.NoError(t, err)

	marker := RequestMarker{
		Attempts:        MaxExecutionAttempts,
		LastAttemptUnix: time.Now().Add(-24 * time.Hour).Unix(),
	}
	require.NoError(t, stores.Requests.Put(resultAddr.Key(), marker))

	needs, err := pf.needsExecutionFor(resultAddr)
	require.NoError(t, err)
	assert.False(t, needs, "the attempt cap must hold no matter how old the last attempt is")
}
