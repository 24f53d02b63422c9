// Package pure implements memoized execution (L7 of the portal stack): a
// deterministic result address derived from a call signature, a cache
// check against that address, and otherwise a protected execution that
// converges on a single stored result no matter how many times (or where)
// the call is retried.
package pure

import (
	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/portal"
)

// ResultAddr identifies the cached return value of one specific
// (function, kwargs) call. It reuses the call signature's own hash
// signature verbatim (only the descriptor changes), so converting between
// "the call" and "the result of the call" is a descriptor rewrite, never a
// re-hash.
type ResultAddr struct {
	portal.HashAddr
}

// NewResultAddr derives the result address for one call to f.
func NewResultAddr(f *fn.Fn, callSig fn.CallSignature) (ResultAddr, error) {
	sig, err := callSig.Signature()
	if err != nil {
		return ResultAddr{}, err
	}
	addr, err := portal.NewHashAddr(f.Name+"_result_addr", sig)
	if err != nil {
		return ResultAddr{}, err
	}
	return ResultAddr{HashAddr: addr}, nil
}

// CallSignatureAddr rewrites r's descriptor back to a call-signature
// address sharing the same signature: converting between the two is a
// descriptor rewrite, never a re-hash.
func (r ResultAddr) CallSignatureAddr() (portal.HashAddr, error) {
	return portal.NewHashAddr("call_signature", r.Signature)
}
