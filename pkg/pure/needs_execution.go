package pure

import (
	"math"
	"time"

	"github.com/cuemby/portalforge/pkg/fn"
)

// NeedsExecution reports whether kw's call should be (re)dispatched to a
// worker: the result is not already ready, fewer than
// MaxExecutionAttempts prior attempts have been recorded, and the time
// since the most recent attempt exceeds DefaultExecutionTime *
// 2^attempts. This implements an exponential-backoff quarantine, so a
// function that crashes on every attempt stops being resampled
// constantly.
func (p *PureFn) NeedsExecution(kw fn.KwArgs) (bool, error) {
	_, _, resultAddr, err := p.CallSignature(kw)
	if err != nil {
		return false, err
	}
	return p.needsExecutionFor(resultAddr)
}

// NeedsExecutionAddr is NeedsExecution for a caller (pkg/swarm's request
// handler) that already holds a ResultAddr reconstructed from a sampled
// execution request, rather than the original kwargs.
func (p *PureFn) NeedsExecutionAddr(resultAddr ResultAddr) (bool, error) {
	return p.needsExecutionFor(resultAddr)
}

func (p *PureFn) needsExecutionFor(resultAddr ResultAddr) (bool, error) {
	if _, ready, err := p.readyValue(resultAddr); err != nil {
		return false, err
	} else if ready {
		return false, nil
	}

	var marker RequestMarker
	if err := p.Stores.Requests.Get(resultAddr.Key(), &marker); err != nil {
		// No request recorded yet: never attempted, so it needs execution
		// regardless of backoff.
		return true, nil
	}

	if marker.Attempts >= MaxExecutionAttempts {
		return false, nil
	}

	backoff := time.Duration(float64(DefaultExecutionTime) * math.Pow(2, float64(marker.Attempts)))
	elapsed := time.Since(time.Unix(marker.LastAttemptUnix, 0))
	return elapsed > backoff, nil
}
