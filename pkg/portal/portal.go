package portal

import (
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/portalforge/pkg/ids"
	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/registry"
	"github.com/cuemby/portalforge/pkg/storage"
)

// directory maps a portal's fingerprint to the live *Portal, so a
// ValueAddr can resolve a containing-portal fingerprint on demand without
// ever pinning a *Portal directly (a fingerprint string is safe to hold
// indefinitely; a *Portal is not, since portals can be closed).
var (
	directoryMu sync.RWMutex
	directory   = make(map[string]*Portal)
)

func lookupPortal(fingerprint string) (*Portal, bool) {
	directoryMu.RLock()
	defer directoryMu.RUnlock()
	p, ok := directory[fingerprint]
	return p, ok
}

// Lookup resolves a portal fingerprint to its live *Portal, if that portal
// is still open in this process. pkg/pure uses this to read another
// portal's execution-results store when replicating a memoized result on
// demand.
func Lookup(fingerprint string) (*Portal, bool) {
	return lookupPortal(fingerprint)
}

func allPortalFingerprints() []string {
	directoryMu.RLock()
	defer directoryMu.RUnlock()
	out := make([]string, 0, len(directory))
	for fp := range directory {
		out = append(out, fp)
	}
	return out
}

// Portal is a window into persistent state: it owns a storage.DB rooted at
// a directory, registers itself with the process-wide portal registry, and
// exposes content-addressed value storage plus tunable configuration.
type Portal struct {
	reg         *registry.Registry
	db          *storage.DB
	dir         string
	fingerprint string
	entropy     *rand.Rand

	values *storage.Store

	portalConfig *storage.Store
	nodeConfig   *storage.Store

	logger zerolog.Logger
}

// Open creates or reopens a Portal rooted at dir, registering it with reg
// (typically registry.Global).
func Open(reg *registry.Registry, dir string) (*Portal, error) {
	db, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}

	values, err := db.Store([]string{"value_store"}, storage.Gob, true)
	if err != nil {
		db.Close()
		return nil, err
	}

	portalConfig, err := db.Store([]string{"portal_cfg"}, storage.Gob, false)
	if err != nil {
		db.Close()
		return nil, err
	}

	nodeSig := ids.NodeSignature()
	nodePrefix := nodeSig
	if len(nodePrefix) > 8 {
		nodePrefix = nodePrefix[:8]
	}
	nodeConfig, err := db.Store([]string{"node_cfg", nodePrefix}, storage.Gob, false)
	if err != nil {
		db.Close()
		return nil, err
	}

	// The fingerprint is derived from the portal's construction parameters,
	// so a portal reopened on the same directory (in this process or in a
	// descendant worker process) resolves to the same identity.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}
	fingerprint, err := ids.HashSignature([2]string{"portal", absDir})
	if err != nil {
		db.Close()
		return nil, err
	}

	p := &Portal{
		reg:          reg,
		db:           db,
		dir:          dir,
		fingerprint:  fingerprint,
		entropy:      rand.New(rand.NewSource(time.Now().UnixNano())),
		values:       values,
		portalConfig: portalConfig,
		nodeConfig:   nodeConfig,
		logger:       logging.WithPortal(fingerprint),
	}

	if err := reg.RegisterPortal(p); err != nil {
		db.Close()
		return nil, err
	}

	directoryMu.Lock()
	directory[fingerprint] = p
	directoryMu.Unlock()

	p.logger.Info().Str("dir", dir).Msg("portal opened")

	return p, nil
}

// Fingerprint returns the portal's identity string, derived from its
// construction parameters, used by ValueAddr and the execution frame to
// refer to a portal without pinning it.
func (p *Portal) Fingerprint() string { return p.fingerprint }

// Dir returns the portal's root directory.
func (p *Portal) Dir() string { return p.dir }

// DB exposes the underlying storage.DB for layers (pkg/plog, pkg/pure,
// pkg/swarm) that open their own sub-stores.
func (p *Portal) DB() *storage.DB { return p.db }

// Entropy returns the portal's own *rand.Rand, used for RandomKey sampling
// and swarm backoff jitter so tests can seed it for determinism.
func (p *Portal) Entropy() *rand.Rand { return p.entropy }

// NodeLocalStore exposes the portal's node-local config sub-store,
// prefixed by the first 8 characters of this host's node signature.
// pkg/swarm roots its worker registry here.
func (p *Portal) NodeLocalStore() *storage.Store { return p.nodeConfig }

// Enter pushes the portal onto the active-portal stack, making it current.
func (p *Portal) Enter() error {
	return p.reg.PushActivePortal(p)
}

// Exit pops the portal from the active-portal stack.
func (p *Portal) Exit() error {
	return p.reg.PopActivePortal(p)
}

// With runs fn with the portal pushed as active, always popping afterward
// even if fn panics or returns an error.
func (p *Portal) With(fn func() error) (err error) {
	if err = p.Enter(); err != nil {
		return err
	}
	defer func() {
		if exitErr := p.Exit(); exitErr != nil && err == nil {
			err = exitErr
		}
	}()
	return fn()
}

// Close unregisters the portal and closes its database. The portal must
// not be used afterward.
func (p *Portal) Close() error {
	directoryMu.Lock()
	delete(directory, p.fingerprint)
	directoryMu.Unlock()

	if err := p.reg.UnregisterPortal(p); err != nil {
		return err
	}
	p.logger.Info().Msg("portal closed")
	return p.db.Close()
}

// KnownPortalFingerprints returns the fingerprints of every portal
// currently open in this process, including this one.
func (p *Portal) KnownPortalFingerprints() []string {
	return allPortalFingerprints()
}
