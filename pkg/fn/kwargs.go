package fn

import (
	"fmt"
	"sort"

	"github.com/cuemby/portalforge/pkg/ids"
	"github.com/cuemby/portalforge/pkg/portal"
)

// KwArgs is a map of named call arguments with deterministic key
// ordering: two KwArgs with the same key/value pairs always hash and
// serialize identically regardless of construction order.
type KwArgs map[string]any

// SortedKeys returns the keys of m in deterministic (alphabetical) order.
func (m KwArgs) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PackedKwArgs is the content-addressed form of a KwArgs: every value has
// been replaced with the portal.ValueAddr it was stored under. Packing is
// what makes a call's argument set hashable and cacheable independent of
// the argument values' own size.
type PackedKwArgs map[string]portal.ValueAddr

// Pack converts kw into its content-addressed form, storing every value in
// owner's portal. Key order never affects the result: packing a map is
// order-independent by construction.
func Pack(kw KwArgs, owner *portal.Portal) (PackedKwArgs, error) {
	packed := make(PackedKwArgs, len(kw))
	for _, key := range kw.SortedKeys() {
		addr, err := portal.NewValueAddr(kw[key], owner, true)
		if err != nil {
			return nil, fmt.Errorf("fn: failed to pack argument %q: %w", key, err)
		}
		packed[key] = *addr
	}
	return packed, nil
}

// Unpack resolves every ValueAddr in packed back to its raw value, reading
// out (and possibly replicating) from reader.
func Unpack(packed PackedKwArgs, reader *portal.Portal) (KwArgs, error) {
	kw := make(KwArgs, len(packed))
	for key, addr := range packed {
		addr := addr
		var value any
		if err := addr.Get(reader, &value); err != nil {
			return nil, fmt.Errorf("fn: failed to unpack argument %q: %w", key, err)
		}
		kw[key] = value
	}
	return kw, nil
}

// Signature computes a deterministic content hash for a packed argument
// set: two packed kwargs with identical key/value addresses, regardless of
// map iteration order, hash identically, because the hash input is built
// from the keys in sorted order.
func (p PackedKwArgs) Signature() (string, error) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, p[k].Signature})
	}
	return ids.HashSignature(ordered)
}
