package pure

import (
	"fmt"
	"sync"

	"github.com/cuemby/portalforge/pkg/storage"
)

// resultsBucket and requestsBucket name the portal-wide stores every
// PureFn on a given portal shares: results are keyed by result address and
// are append-only (converging writes from multiple at-least-once
// executions are all no-ops after the first), requests are keyed by result
// address too but are mutable, since a request is deleted once its call
// completes.
var (
	resultsBucket        = []string{"execution_results"}
	requestsBucket       = []string{"execution_requests"}
	callSignaturesBucket = []string{"execution_request_call_signatures"}
)

// Stores bundles the portal-wide execution-results and execution-requests
// stores. One Stores is opened per portal and shared across every PureFn
// registered against it.
//
// CallSignatures exists because a fresh swarm
// subprocess has no in-memory record of which function or kwargs a
// sampled result address belongs to, so the full fn.CallSignature (fn
// address, packed kwargs) is persisted alongside the request under the
// same key, letting any process reconstruct and run the call it just
// sampled.
type Stores struct {
	Results        *storage.Store
	Requests       *storage.Store
	CallSignatures *storage.Store
}

// OpenStores opens (or reopens) the execution-results, execution-
// requests, and call-signature sub-stores on db.
func OpenStores(db *storage.DB) (*Stores, error) {
	results, err := db.Store(resultsBucket, storage.Gob, true)
	if err != nil {
		return nil, fmt.Errorf("pure: failed to open execution results store: %w", err)
	}
	requests, err := db.Store(requestsBucket, storage.JSON, false)
	if err != nil {
		return nil, fmt.Errorf("pure: failed to open execution requests store: %w", err)
	}
	callSignatures, err := db.Store(callSignaturesBucket, storage.Gob, true)
	if err != nil {
		return nil, fmt.Errorf("pure: failed to open execution request call signatures store: %w", err)
	}
	return &Stores{Results: results, Requests: requests, CallSignatures: callSignatures}, nil
}

// storesRegistry maps a portal fingerprint to the Stores opened against
// it, so pkg/swarm's request handler (which samples a request key without
// knowing in advance which PureFn it belongs to) can reach the shared
// execution-requests/call-signatures stores for whichever portal its
// process opened, without threading a *Stores through the subprocess
// command line.
var (
	storesRegistryMu sync.Mutex
	storesRegistry   = make(map[string]*Stores)
)

// OpenStoresForPortal opens p's Stores and registers them under p's
// fingerprint for StoresFor to find later in this process.
func OpenStoresForPortal(p interface {
	DB() *storage.DB
	Fingerprint() string
}) (*Stores, error) {
	stores, err := OpenStores(p.DB())
	if err != nil {
		return nil, err
	}
	storesRegistryMu.Lock()
	storesRegistry[p.Fingerprint()] = stores
	storesRegistryMu.Unlock()
	return stores, nil
}

// StoresFor returns the Stores previously opened via OpenStoresForPortal
// for the portal with the given fingerprint, if any is registered in this
// process.
func StoresFor(fingerprint string) (*Stores, bool) {
	storesRegistryMu.Lock()
	defer storesRegistryMu.Unlock()
	s, ok := storesRegistry[fingerprint]
	return s, ok
}

// RequestMarker is the execution-requests value: presence alone marks
// "this call would like to be executed", and the fields carry the
// bookkeeping NeedsExecution needs to implement exponential backoff over
// repeated failed attempts.
type RequestMarker struct {
	Attempts        int   `json:"attempts"`
	LastAttemptUnix int64 `json:"last_attempt_unix"`
}

// containingPortals is the process-wide, weak (fingerprint-only) tracker
// of which portals are known to hold a given result address's value,
// mirroring portal.ValueAddr's own containingPortals set but keyed by
// result-address signature at package scope, since a ResultAddr is a
// short-lived value type recomputed on every call rather than a long-lived
// object.
var (
	containingMu sync.Mutex
	containing   = make(map[string]map[string]struct{})
)

func trackContaining(sig, fingerprint string) {
	containingMu.Lock()
	defer containingMu.Unlock()
	set, ok := containing[sig]
	if !ok {
		set = make(map[string]struct{})
		containing[sig] = set
	}
	set[fingerprint] = struct{}{}
}

func containingFingerprints(sig string) []string {
	containingMu.Lock()
	defer containingMu.Unlock()
	set := containing[sig]
	out := make([]string, 0, len(set))
	for fp := range set {
		out = append(out, fp)
	}
	return out
}

// pureFnRegistry maps "<portal fingerprint>/<fn address signature>" to the
// PureFn registered under it, letting runPrerequisite re-enter the
// memoized pipeline for a validator-demanded prerequisite call without
// pkg/protected ever needing to import pkg/pure.
var (
	pureFnRegistryMu sync.Mutex
	pureFnRegistry   = make(map[string]*PureFn)
)

func registerPureFn(p *PureFn) {
	pureFnRegistryMu.Lock()
	defer pureFnRegistryMu.Unlock()
	pureFnRegistry[pureFnKey(p.Portal.Fingerprint(), p.Fn.Addr.Signature)] = p
}

func lookupPureFn(portalFingerprint, fnAddrSignature string) (*PureFn, bool) {
	pureFnRegistryMu.Lock()
	defer pureFnRegistryMu.Unlock()
	p, ok := pureFnRegistry[pureFnKey(portalFingerprint, fnAddrSignature)]
	return p, ok
}

func pureFnKey(portalFingerprint, fnAddrSignature string) string {
	return portalFingerprint + "/" + fnAddrSignature
}
