package pure

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/metrics"
	"github.com/cuemby/portalforge/pkg/portalerr"
)

// Get requests execution of p with kw (without running it locally) and
// then polls Ready with exponential backoff (base 1s, doubling, jittered
// ±0.5s, floor 1s) until the result becomes available or timeout elapses.
// A timeout of zero or less raises promptly without sleeping at all.
func (p *PureFn) Get(kw fn.KwArgs, timeout time.Duration) (any, error) {
	timer := metrics.NewTimer()

	_, callSig, resultAddr, err := p.CallSignature(kw)
	if err != nil {
		return nil, err
	}

	if err := p.requestExecution(resultAddr, callSig); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	backoff := DefaultExecutionTime

	for {
		if cached, ok, err := p.readyValue(resultAddr); err != nil {
			return nil, err
		} else if ok {
			var out any
			if err := cached.Get(p.Portal, &out); err != nil {
				return nil, err
			}
			// The request this Get enqueued is satisfied; clear it so
			// workers stop sampling a key that has nothing left to do.
			_ = p.Stores.Requests.Delete(resultAddr.Key())
			timer.ObserveDuration(metrics.RequestLatency)
			return out, nil
		}

		if timeout <= 0 || !time.Now().Before(deadline) {
			return nil, fmt.Errorf("pure: result for %s not ready within %s: %w", p.Fn.Name, timeout, portalerr.ErrTimeout)
		}

		sleep := jittered(backoff, p.Portal.Entropy())
		if remaining := time.Until(deadline); sleep > remaining {
			sleep = remaining
		}
		if sleep > 0 {
			time.Sleep(sleep)
		}
		backoff *= 2
	}
}

// jittered adds up to ±0.5s of jitter to backoff, drawn from entropy, and
// floors the result at 1s.
func jittered(backoff time.Duration, entropy interface{ Float64() float64 }) time.Duration {
	jitter := time.Duration((entropy.Float64() - 0.5) * float64(time.Second))
	d := backoff + jitter
	if d < time.Second {
		d = time.Second
	}
	return d
}

// requestExecution writes an execution-request marker for resultAddr if
// one does not already exist, asking any swarm worker sampling the
// execution-requests store to pick it up. It does not bump the attempt
// counter the way executeUncached's recordAttempt does: Get never runs
// the call itself, so it must not quarantine a call some worker hasn't
// even attempted yet.
func (p *PureFn) requestExecution(resultAddr ResultAddr, callSig fn.CallSignature) error {
	var marker RequestMarker
	if err := p.Stores.Requests.Get(resultAddr.Key(), &marker); err == nil {
		return nil
	}
	if err := p.Stores.Requests.Put(resultAddr.Key(), RequestMarker{}); err != nil {
		return fmt.Errorf("pure: failed to request execution for %s: %w", p.Fn.Name, err)
	}
	if err := p.Stores.CallSignatures.Put(resultAddr.Key(), callSig); err != nil && !errors.Is(err, portalerr.ErrAppendOnlyViolation) {
		return fmt.Errorf("pure: failed to record call signature for %s: %w", p.Fn.Name, err)
	}
	return nil
}
