package fn

import (
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/cuemby/portalforge/pkg/ids"
	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/portalerr"
	"github.com/cuemby/portalforge/pkg/storage"
)

func init() {
	// CallSignature and PackedKwArgs flow through Gob-format stores (the
	// execution-request call-signature store), which box values behind an
	// interface field.
	gob.Register(CallSignature{})
	gob.Register(PackedKwArgs{})
}

// Fn is an ordinary function wrapped for content-addressed execution: its
// normalized source text is hashed into an address, and the same name is
// used to look up the compiled Go closure that actually runs it (see
// Register/Lookup; Go has no eval, so the address identifies the function
// but never reconstructs it).
type Fn struct {
	Name   string
	Source string
	Addr   portal.HashAddr
}

// Define normalizes source, derives its address, persists the normalized
// source under owner's function store, and returns the resulting Fn. It
// does not register a closure: callers register the Go implementation
// separately via Register, keyed by the returned Fn.Name.
func Define(source string, owner *portal.Portal) (*Fn, error) {
	name, normalized, err := NormalizeSource(source)
	if err != nil {
		return nil, err
	}

	sig, err := ids.HashSignature(normalized)
	if err != nil {
		return nil, fmt.Errorf("fn: failed to hash normalized source for %s: %w", name, err)
	}

	addr, err := portal.NewHashAddr(name+"_fn_addr", sig)
	if err != nil {
		return nil, err
	}

	store, err := owner.DB().Store([]string{"functions"}, storage.Source, false)
	if err != nil {
		return nil, err
	}
	if err := store.Put(addr.Key(), normalized); err != nil && !errors.Is(err, portalerr.ErrAppendOnlyViolation) {
		return nil, fmt.Errorf("fn: failed to persist normalized source for %s: %w", name, err)
	}

	log := logging.WithComponent("fn")
	log.Debug().Str("fn", name).Str("addr", addr.Signature).Msg("function defined")

	return &Fn{Name: name, Source: normalized, Addr: addr}, nil
}

// Closure resolves the compiled Go implementation backing fn.
func (fn *Fn) Closure() (Closure, error) {
	impl, ok := Lookup(fn.Name)
	if !ok {
		return nil, fmt.Errorf("fn: no closure registered for %s: %w", fn.Name, portalerr.ErrNotFound)
	}
	return impl, nil
}

// CallSignature uniquely identifies one call of one function against one
// packed argument set, independent of when or where it runs. Packed is
// carried alongside the hash for callers (pkg/pure's prerequisite-call
// handling) that need to actually re-run the call, not just identify it;
// Packed is never hashed into Signature, so two CallSignatures built from
// equal kwargs always yield the same Signature regardless of whether
// Packed was populated.
type CallSignature struct {
	FnAddr     portal.HashAddr
	KwArgsAddr string
	Packed     PackedKwArgs
}

// NewCallSignature builds the CallSignature for invoking fn with packed.
func NewCallSignature(fn *Fn, packed PackedKwArgs) (CallSignature, error) {
	kwSig, err := packed.Signature()
	if err != nil {
		return CallSignature{}, err
	}
	return CallSignature{FnAddr: fn.Addr, KwArgsAddr: kwSig, Packed: packed}, nil
}

// Signature derives a single hash signature naming this exact call (function
// identity plus argument identity), used as the key under which pkg/pure
// stores the call's result.
func (c CallSignature) Signature() (string, error) {
	return ids.HashSignature([2]string{c.FnAddr.Signature, c.KwArgsAddr})
}
