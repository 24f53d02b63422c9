package portal

import (
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/cuemby/portalforge/pkg/ids"
	"github.com/cuemby/portalforge/pkg/portalerr"
)

func init() {
	gob.Register(HashAddr{})
	gob.Register(ValueAddr{})
}

// ValueAddr is a globally unique, content-addressed reference to an
// immutable value. Creating one stores the value in the current portal's
// value store; retrieving one from a non-owning portal transparently
// fetches the value from any other known portal that has it and replicates
// it locally.
//
// ValueAddr tracks the fingerprints of portals believed to contain its
// value, never a live *Portal: fingerprints are cheap to hold and never
// pin a portal's lifecycle or its storage handles. Like all portal state,
// the tracker follows the single-goroutine ownership model; copies of a
// ValueAddr share the same tracker map.
type ValueAddr struct {
	HashAddr

	containingPortals map[string]struct{}
}

// NewValueAddr builds a ValueAddr for data. If store is true, data is
// written into owner's value store (a no-op, not an error, if the exact
// same content was already stored; the store is append-only but keyed by
// content hash, so re-storing identical content is always idempotent).
func NewValueAddr(data any, owner *Portal, store bool) (*ValueAddr, error) {
	if existing, ok := asValueAddr(data); ok {
		return existing.clone(), nil
	}

	sig, err := ids.HashSignature(data)
	if err != nil {
		return nil, fmt.Errorf("portal: failed to hash value for ValueAddr: %w", err)
	}
	descriptor := buildDescriptor(data)
	addr, err := NewHashAddr(descriptor, sig)
	if err != nil {
		return nil, err
	}

	v := &ValueAddr{HashAddr: addr, containingPortals: make(map[string]struct{})}

	if store {
		if owner == nil {
			return nil, fmt.Errorf("portal: NewValueAddr requires an owner portal to store into")
		}
		exists, err := owner.values.Exists(v.Key())
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := owner.values.Put(v.Key(), data); err != nil && !errors.Is(err, portalerr.ErrAppendOnlyViolation) {
				return nil, fmt.Errorf("portal: failed to store value: %w", err)
			}
		}
		v.track(owner.Fingerprint())
	}

	return v, nil
}

// asValueAddr reports whether data already knows its own address: a
// ValueAddr constructed from another ValueAddr copies its descriptor and
// signature directly rather than re-hashing.
func asValueAddr(data any) (*ValueAddr, bool) {
	switch v := data.(type) {
	case *ValueAddr:
		return v, true
	case ValueAddr:
		return &v, true
	default:
		return nil, false
	}
}

// clone copies v's descriptor+signature and tracked portals into a new
// ValueAddr. No new hash is computed and no write reaches any value store.
func (v *ValueAddr) clone() *ValueAddr {
	out := &ValueAddr{HashAddr: v.HashAddr, containingPortals: make(map[string]struct{})}
	for _, fp := range v.trackedFingerprints() {
		out.containingPortals[fp] = struct{}{}
	}
	return out
}

func (v *ValueAddr) track(fingerprint string) {
	if v.containingPortals == nil {
		v.containingPortals = make(map[string]struct{})
	}
	v.containingPortals[fingerprint] = struct{}{}
}

func (v *ValueAddr) trackedFingerprints() []string {
	out := make([]string, 0, len(v.containingPortals))
	for fp := range v.containingPortals {
		out = append(out, fp)
	}
	return out
}

// Ready reports whether the value is retrievable from reader or any other
// known portal.
func (v *ValueAddr) Ready(reader *Portal) bool {
	if ok, _ := reader.values.Exists(v.Key()); ok {
		return true
	}
	for _, fp := range v.searchOrder(reader) {
		if other, ok := lookupPortal(fp); ok {
			if ok, _ := other.values.Exists(v.Key()); ok {
				return true
			}
		}
	}
	return false
}

// searchOrder returns the fingerprints to try, in order: tracked
// containing portals first (most likely to have it), then every other
// known portal as a fallback.
func (v *ValueAddr) searchOrder(reader *Portal) []string {
	tracked := v.trackedFingerprints()
	seen := make(map[string]struct{}, len(tracked)+1)
	seen[reader.Fingerprint()] = struct{}{}

	order := make([]string, 0, len(tracked))
	for _, fp := range tracked {
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		order = append(order, fp)
	}
	for _, fp := range allPortalFingerprints() {
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		order = append(order, fp)
	}
	return order
}

// Get retrieves the value into out (a pointer matching the value's
// original Go type, or a *any). If the value is not present in reader, Get
// searches other known portals in the order described by searchOrder, and
// on success replicates the value into reader before returning it.
func (v *ValueAddr) Get(reader *Portal, out any) error {
	if err := reader.values.Get(v.Key(), out); err == nil {
		v.track(reader.Fingerprint())
		return nil
	}

	for _, fp := range v.searchOrder(reader) {
		other, ok := lookupPortal(fp)
		if !ok {
			continue
		}
		if err := other.values.Get(v.Key(), out); err == nil {
			v.track(fp)
			if putErr := reader.values.Put(v.Key(), out); putErr == nil || errors.Is(putErr, portalerr.ErrAppendOnlyViolation) {
				v.track(reader.Fingerprint())
			}
			return nil
		}
	}

	return fmt.Errorf("portal: value %s not found in any known portal: %w", v.HashAddr, portalerr.ErrNotFound)
}
