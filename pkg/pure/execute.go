package pure

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/metrics"
	"github.com/cuemby/portalforge/pkg/plog"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/portalerr"
	"github.com/cuemby/portalforge/pkg/protected"
)

// MaxExecutionAttempts is the cap on prior attempts NeedsExecution honors
// before permanently refusing to retry a call.
const MaxExecutionAttempts = 5

// DefaultExecutionTime is the base unit NeedsExecution multiplies by
// 2^attempts to compute the exponential-backoff quarantine window between
// retries of a failing call.
const DefaultExecutionTime = time.Second

// PureFn is a memoized, protected, autonomous function: calling Execute
// with the same kwargs always converges on the same stored result, because
// the wrapped function is assumed pure and the results store is
// append-only.
type PureFn struct {
	Fn     *fn.Fn
	Pre    []protected.PreValidator
	Post   []protected.PostValidator
	LP     *plog.LogPortal
	Portal *portal.Portal
	Stores *Stores

	logger zerolog.Logger
}

// New builds a PureFn and registers it in the process-wide by-address
// registry runPrerequisite uses to re-enter the memoized pipeline for a
// validator-demanded prerequisite call. stores is typically shared across
// every PureFn registered against the same portal (see OpenStores).
func New(f *fn.Fn, p *portal.Portal, lp *plog.LogPortal, stores *Stores, pre []protected.PreValidator, post []protected.PostValidator) *PureFn {
	pf := &PureFn{Fn: f, Pre: pre, Post: post, LP: lp, Portal: p, Stores: stores, logger: logging.WithComponent("pure")}
	registerPureFn(pf)
	return pf
}

// CallSignature computes the CallSignature and ResultAddr for one call to
// p with kw, packing kw into p's portal along the way.
func (p *PureFn) CallSignature(kw fn.KwArgs) (fn.PackedKwArgs, fn.CallSignature, ResultAddr, error) {
	packed, err := fn.Pack(kw, p.Portal)
	if err != nil {
		return nil, fn.CallSignature{}, ResultAddr{}, err
	}
	callSig, err := fn.NewCallSignature(p.Fn, packed)
	if err != nil {
		return nil, fn.CallSignature{}, ResultAddr{}, err
	}
	resultAddr, err := NewResultAddr(p.Fn, callSig)
	if err != nil {
		return nil, fn.CallSignature{}, ResultAddr{}, err
	}
	return packed, callSig, resultAddr, nil
}

// Execute runs p synchronously with kw: pack kwargs,
// derive the result address, return the cached value if ready, otherwise
// write an execution request, run the protected pipeline, store the
// result, and delete the request.
func (p *PureFn) Execute(kw fn.KwArgs) (any, error) {
	packed, _, resultAddr, err := p.CallSignature(kw)
	if err != nil {
		return nil, err
	}

	if cached, ok, err := p.readyValue(resultAddr); err != nil {
		return nil, err
	} else if ok {
		metrics.CacheHitsTotal.WithLabelValues("execution_results").Inc()
		p.logger.Debug().Str("fn", p.Fn.Name).Str("result", resultAddr.Key()).Msg("cache hit")
		var out any
		if err := cached.Get(p.Portal, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("execution_results").Inc()
	p.logger.Debug().Str("fn", p.Fn.Name).Str("result", resultAddr.Key()).Msg("cache miss")

	return p.executeUncached(packed, kw, resultAddr)
}

func (p *PureFn) executeUncached(packed fn.PackedKwArgs, kw fn.KwArgs, resultAddr ResultAddr) (any, error) {
	callSig, err := fn.NewCallSignature(p.Fn, packed)
	if err != nil {
		return nil, err
	}
	if err := p.recordAttempt(resultAddr, callSig); err != nil {
		return nil, err
	}

	pf := protected.New(p.Fn, p.LP, p.Pre, p.Post)
	timer := metrics.NewTimer()
	result, err := pf.Execute(packed, kw, p.Portal.Entropy(), p.runPrerequisite)
	timer.ObserveDurationVec(metrics.ExecutionDuration, p.Fn.Name)
	if err != nil {
		return nil, err
	}

	resultValueAddr, err := portal.NewValueAddr(result, p.Portal, true)
	if err != nil {
		return nil, fmt.Errorf("pure: failed to store result for %s: %w", p.Fn.Name, err)
	}
	if putErr := p.Stores.Results.Put(resultAddr.Key(), *resultValueAddr); putErr != nil && !errors.Is(putErr, portalerr.ErrAppendOnlyViolation) {
		return nil, fmt.Errorf("pure: failed to record execution result for %s: %w", p.Fn.Name, putErr)
	}
	if delErr := p.Stores.Requests.Delete(resultAddr.Key()); delErr != nil {
		return nil, fmt.Errorf("pure: failed to clear execution request for %s: %w", p.Fn.Name, delErr)
	}
	metrics.ExecutionRequestsPending.WithLabelValues(p.Fn.Name).Dec()

	metrics.ResultsComputedTotal.WithLabelValues(p.Fn.Name).Inc()
	p.logger.Info().Str("fn", p.Fn.Name).Msg("result computed")
	return result, nil
}

// recordAttempt writes (or refreshes) the execution-request marker for
// resultAddr, bumping its attempt counter so NeedsExecution's backoff sees
// the new attempt. It also persists callSig under the same key in the
// call-signatures store, the first time resultAddr is seen, so a swarm
// subprocess that samples this key later has enough to actually run the
// call rather than just recognizing it exists.
func (p *PureFn) recordAttempt(resultAddr ResultAddr, callSig fn.CallSignature) error {
	marker := RequestMarker{}
	_ = p.Stores.Requests.Get(resultAddr.Key(), &marker)
	marker.Attempts++
	marker.LastAttemptUnix = time.Now().Unix()
	if err := p.Stores.Requests.Put(resultAddr.Key(), marker); err != nil {
		return fmt.Errorf("pure: failed to record execution request for %s: %w", p.Fn.Name, err)
	}
	if marker.Attempts == 1 {
		metrics.ExecutionRequestsPending.WithLabelValues(p.Fn.Name).Inc()
	}
	if err := p.Stores.CallSignatures.Put(resultAddr.Key(), callSig); err != nil && !errors.Is(err, portalerr.ErrAppendOnlyViolation) {
		return fmt.Errorf("pure: failed to record call signature for %s: %w", p.Fn.Name, err)
	}
	return nil
}

// Lookup resolves a portal fingerprint and fn address signature to the
// PureFn registered for that pair, if any is still registered in this
// process. pkg/swarm's request-handler loop uses this to dispatch a
// sampled execution request back into the memoized pipeline.
func Lookup(portalFingerprint, fnAddrSignature string) (*PureFn, bool) {
	return lookupPureFn(portalFingerprint, fnAddrSignature)
}

// runPrerequisite is passed to protected.ProtectedFn.Execute so a
// validator that demands a prerequisite call can have it executed through
// the same memoized pipeline: it looks up the prerequisite's own
// registered PureFn by function address on this portal, unpacks the
// CallSignature's carried PackedKwArgs, and recurses into Execute (so the
// prerequisite itself gets cached, protected, and logged exactly like any
// other call).
func (p *PureFn) runPrerequisite(callSig fn.CallSignature) error {
	prereq, ok := lookupPureFn(p.Portal.Fingerprint(), callSig.FnAddr.Signature)
	if !ok {
		return fmt.Errorf("pure: no PureFn registered for prerequisite call %s on this portal: %w", callSig.FnAddr, portalerr.ErrNotFound)
	}
	kw, err := fn.Unpack(callSig.Packed, p.Portal)
	if err != nil {
		return fmt.Errorf("pure: failed to unpack prerequisite call kwargs for %s: %w", callSig.FnAddr, err)
	}
	_, err = prereq.Execute(kw)
	return err
}
