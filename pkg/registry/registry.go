// Package registry implements the process-wide portal registry: the set of
// known portals, the LIFO active-portal stack with re-entrancy counters,
// the portal-aware-object maps, and single-goroutine ownership
// enforcement. It mirrors the design of a singleton bookkeeping object
// that every portal registers with on creation and every "with
// portal:"-equivalent scope pushes/pops.
package registry

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/metrics"
	"github.com/cuemby/portalforge/pkg/portalerr"
)

// MaxNestedPortals bounds the active-portal stack depth. Exceeding it
// indicates runaway recursion through nested portal activations rather
// than legitimate nesting.
const MaxNestedPortals = 999

// Portal is the minimal surface the registry needs from a portal
// implementation. pkg/portal.Portal satisfies it.
type Portal interface {
	Fingerprint() string
}

// Registry is the process-wide portal registry. Use Global for the
// singleton every layer above L0 shares; Registry is exported mainly so
// tests can construct isolated instances.
type Registry struct {
	mu sync.Mutex

	ownerGoroutine string
	logger         zerolog.Logger

	known               map[Portal]struct{}
	activeStack         []Portal
	activeStackCounters []int
	mostRecentlyCreated Portal

	// Portal-aware objects register lazily on first visit: fingerprint to
	// object, fingerprint to owning portal. Unregistering a portal clears
	// every object linked to it.
	objects     map[string]any
	objectOwner map[string]Portal

	defaultInstantiator    func() (Portal, error)
	instantiatorHasBeenSet bool
}

// New creates an empty registry bound to the calling goroutine.
func New() *Registry {
	return &Registry{
		known:          make(map[Portal]struct{}),
		objects:        make(map[string]any),
		objectOwner:    make(map[string]Portal),
		ownerGoroutine: goroutineID(),
		logger:         logging.WithComponent("registry"),
	}
}

// Global is the process-wide registry singleton.
var Global = New()

func goroutineID() string {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	line := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		return line[:idx]
	}
	return line
}

func (r *Registry) checkSingleGoroutine() error {
	current := goroutineID()
	if r.ownerGoroutine == "" {
		r.ownerGoroutine = current
		return nil
	}
	if current != r.ownerGoroutine {
		return fmt.Errorf("registry: called from goroutine %s, owned by goroutine %s: %w",
			current, r.ownerGoroutine, portalerr.ErrConcurrencyMisuse)
	}
	return nil
}

// RegisterDefaultInstantiator registers the factory used to create a
// default portal the first time one is needed with no active portal and no
// portal yet created. It may be set exactly once per registry.
func (r *Registry) RegisterDefaultInstantiator(f func() (Portal, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return err
	}
	if r.instantiatorHasBeenSet {
		return fmt.Errorf("registry: default portal instantiator already set: %w", portalerr.ErrConfigMisuse)
	}
	r.defaultInstantiator = f
	r.instantiatorHasBeenSet = true
	return nil
}

// RegisterPortal adds portal to the known set and marks it as the most
// recently created portal.
func (r *Registry) RegisterPortal(p Portal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return err
	}
	r.known[p] = struct{}{}
	r.mostRecentlyCreated = p
	metrics.PortalsRegistered.Set(float64(len(r.known)))
	r.logger.Debug().Str("portal", p.Fingerprint()).Int("known", len(r.known)).Msg("portal registered")
	return nil
}

// UnregisterPortal removes portal from the known set, along with every
// object linked to it. It does not touch the active stack; popping an
// unregistered portal is rejected by PopActivePortal.
func (r *Registry) UnregisterPortal(p Portal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return err
	}
	delete(r.known, p)
	if r.mostRecentlyCreated == p {
		r.mostRecentlyCreated = nil
	}
	for fingerprint, owner := range r.objectOwner {
		if owner == p {
			delete(r.objectOwner, fingerprint)
			delete(r.objects, fingerprint)
		}
	}
	metrics.PortalsRegistered.Set(float64(len(r.known)))
	r.logger.Debug().Str("portal", p.Fingerprint()).Int("known", len(r.known)).Msg("portal unregistered")
	return nil
}

// RegisterObject links a portal-aware object (by its fingerprint) to p.
// Registration happens lazily on an object's first visit to a portal and
// is idempotent: re-registering the same fingerprint against the same
// portal is a no-op, while a different portal takes over the link.
func (r *Registry) RegisterObject(fingerprint string, obj any, p Portal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return err
	}
	if _, ok := r.known[p]; !ok {
		return fmt.Errorf("registry: attempt to link object %q to an unregistered portal: %w",
			fingerprint, portalerr.ErrConcurrencyMisuse)
	}
	r.objects[fingerprint] = obj
	r.objectOwner[fingerprint] = p
	return nil
}

// LinkedObject returns the object registered under fingerprint, if any.
func (r *Registry) LinkedObject(fingerprint string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[fingerprint]
	return obj, ok
}

// ObjectOwner returns the portal an object fingerprint is linked to, if
// any.
func (r *Registry) ObjectOwner(fingerprint string) (Portal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.objectOwner[fingerprint]
	return p, ok
}

// KnownPortals returns every portal currently registered.
func (r *Registry) KnownPortals() ([]Portal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return nil, err
	}
	out := make([]Portal, 0, len(r.known))
	for p := range r.known {
		out = append(out, p)
	}
	return out, nil
}

// CountKnownPortals returns the number of registered portals.
func (r *Registry) CountKnownPortals() (int, error) {
	portals, err := r.KnownPortals()
	if err != nil {
		return 0, err
	}
	return len(portals), nil
}

// PortalByFingerprint scans the known set for a portal with the given
// fingerprint.
func (r *Registry) PortalByFingerprint(fingerprint string) (Portal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.known {
		if p.Fingerprint() == fingerprint {
			return p, true
		}
	}
	return nil, false
}

// NonActivePortals returns every known portal that is nowhere on the
// active stack.
func (r *Registry) NonActivePortals() ([]Portal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return nil, err
	}
	active := make(map[Portal]struct{}, len(r.activeStack))
	for _, p := range r.activeStack {
		active[p] = struct{}{}
	}
	var out []Portal
	for p := range r.known {
		if _, ok := active[p]; !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// NonCurrentPortals returns every known portal except the innermost (top)
// active one.
func (r *Registry) NonCurrentPortals() ([]Portal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return nil, err
	}
	var current Portal
	if len(r.activeStack) > 0 {
		current = r.activeStack[len(r.activeStack)-1]
	}
	var out []Portal
	for p := range r.known {
		if p != current {
			out = append(out, p)
		}
	}
	return out, nil
}

// PushActivePortal pushes portal onto the active stack. Re-entering the
// portal already at the top of the stack increments its re-entrancy
// counter instead of pushing a new frame.
func (r *Registry) PushActivePortal(p Portal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return err
	}
	if len(r.activeStack) >= MaxNestedPortals {
		return fmt.Errorf("registry: too many nested portals (max %d): %w", MaxNestedPortals, portalerr.ErrConcurrencyMisuse)
	}
	if _, ok := r.known[p]; !ok {
		return fmt.Errorf("registry: attempt to push an unregistered portal: %w", portalerr.ErrConcurrencyMisuse)
	}
	if len(r.activeStack) > 0 && r.activeStack[len(r.activeStack)-1] == p {
		r.activeStackCounters[len(r.activeStackCounters)-1]++
	} else {
		r.activeStack = append(r.activeStack, p)
		r.activeStackCounters = append(r.activeStackCounters, 1)
	}
	metrics.ActiveStackDepth.Set(float64(len(r.activeStack)))
	return nil
}

// PopActivePortal pops portal from the active stack, decrementing its
// re-entrancy counter first if it is greater than one.
func (r *Registry) PopActivePortal(p Portal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSingleGoroutine(); err != nil {
		return err
	}
	if _, ok := r.known[p]; !ok {
		return fmt.Errorf("registry: attempt to pop an unregistered portal: %w", portalerr.ErrConcurrencyMisuse)
	}
	if len(r.activeStack) == 0 || r.activeStack[len(r.activeStack)-1] != p {
		return fmt.Errorf("registry: attempt to pop an unexpected portal from the stack: %w", portalerr.ErrConcurrencyMisuse)
	}
	top := len(r.activeStackCounters) - 1
	if r.activeStackCounters[top] == 1 {
		r.activeStack = r.activeStack[:top]
		r.activeStackCounters = r.activeStackCounters[:top]
	} else {
		r.activeStackCounters[top]--
	}
	metrics.ActiveStackDepth.Set(float64(len(r.activeStack)))
	return nil
}

// ActiveStackDepth returns the current length of the active-portal stack.
func (r *Registry) ActiveStackDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeStack)
}

// IsActive reports whether portal is anywhere in the active stack.
func (r *Registry) IsActive(p Portal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ap := range r.activeStack {
		if ap == p {
			return true
		}
	}
	return false
}

// IsCurrent reports whether portal is the innermost (top) active portal.
func (r *Registry) IsCurrent(p Portal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeStack) > 0 && r.activeStack[len(r.activeStack)-1] == p
}

// CurrentPortal returns the top of the active stack, falling back to the
// most recently created portal (auto-activating it), and finally to the
// registered default instantiator, in that priority order.
func (r *Registry) CurrentPortal() (Portal, error) {
	r.mu.Lock()
	if err := r.checkSingleGoroutine(); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	if len(r.activeStack) > 0 {
		p := r.activeStack[len(r.activeStack)-1]
		r.mu.Unlock()
		return p, nil
	}

	if r.mostRecentlyCreated == nil {
		instantiate := r.defaultInstantiator
		// The instantiator typically calls RegisterPortal on the portal it
		// creates, so it must run without holding r.mu.
		r.mu.Unlock()
		if instantiate == nil {
			return nil, fmt.Errorf("registry: no active portal and no default instantiator registered: %w", portalerr.ErrConcurrencyMisuse)
		}
		created, err := instantiate()
		if err != nil {
			return nil, fmt.Errorf("registry: default portal instantiator failed: %w", err)
		}
		if created == nil {
			return nil, fmt.Errorf("registry: default portal instantiator returned nil")
		}
		r.mu.Lock()
		if r.mostRecentlyCreated == nil {
			r.mostRecentlyCreated = created
		}
	}

	p := r.mostRecentlyCreated
	r.activeStack = append(r.activeStack, p)
	r.activeStackCounters = append(r.activeStackCounters, 1)
	metrics.ActiveStackDepth.Set(float64(len(r.activeStack)))
	r.mu.Unlock()
	return p, nil
}

// Reset clears all state. Intended for tests only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known = make(map[Portal]struct{})
	r.objects = make(map[string]any)
	r.objectOwner = make(map[string]Portal)
	r.activeStack = nil
	r.activeStackCounters = nil
	r.mostRecentlyCreated = nil
}

// debugStackDepths is a helper for tests asserting on re-entrancy counters.
func (r *Registry) debugStackDepths() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.activeStackCounters))
	copy(out, r.activeStackCounters)
	return out
}
