package swarm

import (
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/cuemby/portalforge/pkg/storage"
	"github.com/cuemby/portalforge/pkg/sysproc"
)

func init() {
	// The registry lives in the node-local config store, a Gob-format
	// store that boxes values behind an interface field.
	gob.Register(DescendantInfo{})
	gob.Register(map[string]DescendantInfo{})
}

// workerRegistryKey is the single key in the portal's node-local substore
// under which the entire worker registry is stored. The value is a map
// from a process-unique string (pid@starttime) to its DescendantInfo.
const workerRegistryKey = "all_workers"

// WorkerRegistry tracks every descendant process spawned from one
// portal's node, persisted in that portal's node-local config substore so
// it survives the ancestor process restarting against the same directory.
type WorkerRegistry struct {
	mu    sync.Mutex
	store *storage.Store
}

// OpenWorkerRegistry opens the worker registry rooted at nodeLocal, the
// portal's node-config substore.
func OpenWorkerRegistry(nodeLocal *storage.Store) *WorkerRegistry {
	return &WorkerRegistry{store: nodeLocal}
}

func descendantKey(pid int, startTime int64) string {
	return fmt.Sprintf("%d@%d", pid, startTime)
}

func (r *WorkerRegistry) load() (map[string]DescendantInfo, error) {
	all := make(map[string]DescendantInfo)
	if err := r.store.Get(workerRegistryKey, &all); err != nil {
		return make(map[string]DescendantInfo), nil
	}
	return all, nil
}

func (r *WorkerRegistry) save(all map[string]DescendantInfo) error {
	return r.store.Put(workerRegistryKey, all)
}

// Register adds info to the registry.
func (r *WorkerRegistry) Register(info DescendantInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return err
	}
	all[descendantKey(info.PID, info.StartTime)] = info
	return r.save(all)
}

// Unregister removes the entry for (pid, startTime), if present.
func (r *WorkerRegistry) Unregister(pid int, startTime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return err
	}
	delete(all, descendantKey(pid, startTime))
	return r.save(all)
}

// AliveWorkers returns every registered worker of the given role whose
// IsAlive check passes. Liveness is computed on access, and dead entries
// are pruned from the persisted registry in the same pass.
func (r *WorkerRegistry) AliveWorkers(role Role, inspector sysproc.Inspector) ([]DescendantInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return nil, err
	}

	var alive []DescendantInfo
	changed := false
	for key, info := range all {
		if !info.IsAlive(inspector) {
			delete(all, key)
			changed = true
			continue
		}
		if info.Role == role {
			alive = append(alive, info)
		}
	}
	if changed {
		if err := r.save(all); err != nil {
			return nil, err
		}
	}
	return alive, nil
}

// CountAlive returns len(AliveWorkers(role, inspector)).
func (r *WorkerRegistry) CountAlive(role Role, inspector sysproc.Inspector) (int, error) {
	alive, err := r.AliveWorkers(role, inspector)
	if err != nil {
		return 0, err
	}
	return len(alive), nil
}

// All returns every registered entry, alive or not, mainly for inspection
// tooling (cmd/portalforge's swarm-status operation).
func (r *WorkerRegistry) All() ([]DescendantInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]DescendantInfo, 0, len(all))
	for _, info := range all {
		out = append(out, info)
	}
	return out, nil
}
