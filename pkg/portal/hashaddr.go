// Package portal implements content-addressed, persistently-backed value
// storage (L2 of the portal stack): HashAddr/ValueAddr addressing, the
// Portal type itself, cross-portal fetch/replicate, and four-level tunable
// configuration.
package portal

import (
	"fmt"
)

// HashAddr is a globally unique, content-derived address. Two values of
// identical type and content always produce identical addresses. The
// signature is split into a 3-character shard, a 3-character subshard, and
// a tail, so on-disk/bucket layouts can partition by shard without
// building one flat directory per address.
type HashAddr struct {
	Descriptor string
	Signature  string
}

// NewHashAddr validates and constructs a HashAddr from its two string
// components. Signature must be at least 10 characters (3 shard + 3
// subshard + at least 4 tail).
func NewHashAddr(descriptor, signature string) (HashAddr, error) {
	if descriptor == "" || signature == "" {
		return HashAddr{}, fmt.Errorf("portal: descriptor and signature must not be empty")
	}
	if len(signature) < 10 {
		return HashAddr{}, fmt.Errorf("portal: signature must be at least 10 characters, got %d", len(signature))
	}
	return HashAddr{Descriptor: descriptor, Signature: signature}, nil
}

// Shard returns the first 3 characters of the signature.
func (h HashAddr) Shard() string { return h.Signature[:3] }

// Subshard returns characters 4-6 of the signature.
func (h HashAddr) Subshard() string { return h.Signature[3:6] }

// Tail returns the signature's remaining characters after shard+subshard.
func (h HashAddr) Tail() string { return h.Signature[6:] }

// Key returns the flat storage key this address maps to: shard/subshard
// folded into the key itself so a single bucket can still be partitioned
// by prefix if a caller chooses to split it later.
func (h HashAddr) Key() string {
	return h.Shard() + h.Subshard() + h.Descriptor + "_" + h.Tail()
}

// String renders the address as "descriptor:signature", mainly for logs.
func (h HashAddr) String() string {
	return h.Descriptor + ":" + h.Signature
}

// Equal reports whether two addresses name the same descriptor+signature.
func (h HashAddr) Equal(other HashAddr) bool {
	return h.Descriptor == other.Descriptor && h.Signature == other.Signature
}
