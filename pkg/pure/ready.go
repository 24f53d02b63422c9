package pure

import (
	"errors"
	"fmt"

	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/portalerr"
	"github.com/cuemby/portalforge/pkg/storage"
)

// Ready reports whether resultAddr's value is retrievable, trying (in
// order): the current portal's execution-results store,
// any portal previously known to contain it, then every other known
// portal. A hit anywhere other than the current portal is replicated into
// the current portal's store before Ready returns, and the hit portal is
// recorded in the process-wide containing-portals tracker.
func (p *PureFn) Ready(resultAddr ResultAddr) bool {
	_, ok, _ := p.readyValue(resultAddr)
	return ok
}

// readyValue is Ready plus the resolved portal.ValueAddr, shared by
// Execute (to short-circuit a cached call) and Get (to poll without
// executing).
func (p *PureFn) readyValue(resultAddr ResultAddr) (portal.ValueAddr, bool, error) {
	key := resultAddr.Key()

	var local portal.ValueAddr
	if err := p.Stores.Results.Get(key, &local); err == nil {
		trackContaining(resultAddr.Signature, p.Portal.Fingerprint())
		return local, true, nil
	}

	for _, fp := range p.replicationOrder(resultAddr) {
		other, ok := portal.Lookup(fp)
		if !ok {
			continue
		}
		otherResults, err := resultsStoreOn(other)
		if err != nil {
			continue
		}
		var remote portal.ValueAddr
		if err := otherResults.Get(key, &remote); err != nil {
			continue
		}

		trackContaining(resultAddr.Signature, fp)
		trackContaining(resultAddr.Signature, p.Portal.Fingerprint())

		if putErr := p.Stores.Results.Put(key, remote); putErr != nil && !errors.Is(putErr, portalerr.ErrAppendOnlyViolation) {
			return portal.ValueAddr{}, false, fmt.Errorf("pure: failed to replicate result %s from %s: %w", resultAddr, fp, putErr)
		}
		return remote, true, nil
	}

	return portal.ValueAddr{}, false, nil
}

// replicationOrder returns the fingerprints to probe for resultAddr,
// tracked-containing portals first, then every other known portal as a
// fallback, excluding p's own portal.
func (p *PureFn) replicationOrder(resultAddr ResultAddr) []string {
	self := p.Portal.Fingerprint()
	tracked := containingFingerprints(resultAddr.Signature)
	seen := map[string]struct{}{self: {}}

	order := make([]string, 0, len(tracked))
	for _, fp := range tracked {
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		order = append(order, fp)
	}
	for _, fp := range p.Portal.KnownPortalFingerprints() {
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		order = append(order, fp)
	}
	return order
}

// resultsStoreOn opens (or reopens) the execution-results store on a
// different portal so readyValue can probe it directly. bbolt bucket opens
// are idempotent and cheap, so no caching is needed here.
func resultsStoreOn(p *portal.Portal) (*storage.Store, error) {
	return p.DB().Store(resultsBucket, storage.Gob, true)
}
