package portal

import (
	"github.com/cuemby/portalforge/pkg/portalerr"
	"github.com/cuemby/portalforge/pkg/storage"
)

// sentinel is the type behind KeepCurrent and DeleteCurrent, so neither can
// be mistaken for a legitimate configuration value.
type sentinel struct{ name string }

func (s sentinel) String() string { return s.name }

var (
	// KeepCurrent, passed to SetGlobalSetting/SetNodeSetting, leaves the
	// existing stored value untouched.
	KeepCurrent = sentinel{"keep_current"}
	// DeleteCurrent, passed to SetGlobalSetting/SetNodeSetting, removes
	// the key instead of writing a value.
	DeleteCurrent = sentinel{"delete_current"}
)

// SetGlobalSetting writes key in the portal-wide config store, shared
// across every node that opens this portal. KeepCurrent is a no-op;
// DeleteCurrent removes the key.
func (p *Portal) SetGlobalSetting(key string, value any) error {
	return setSetting(p.portalConfig, key, value)
}

// SetNodeSetting writes key in this node's local config store, scoped to
// the signature of the current host (pkg/ids.NodeSignature).
func (p *Portal) SetNodeSetting(key string, value any) error {
	return setSetting(p.nodeConfig, key, value)
}

func setSetting(store *storage.Store, key string, value any) error {
	switch value {
	case KeepCurrent:
		return nil
	case DeleteCurrent:
		return store.Delete(key)
	default:
		return store.Put(key, value)
	}
}

// EffectiveSetting resolves key with portal-global taking precedence over
// node-local, the two-level precedence used directly by the portal itself
// (as opposed to the four-level precedence used by an object scoped to
// it; see ObjectSettings).
func (p *Portal) EffectiveSetting(key string, out any) error {
	if err := p.portalConfig.Get(key, out); err == nil {
		return nil
	}
	if err := p.nodeConfig.Get(key, out); err == nil {
		return nil
	}
	return portalerr.ErrNotFound
}

// ObjectSettings scopes the four-level configuration precedence to a
// single object (a function name, a portal-aware value's key): portal
// global > portal node-local > object global > object node-local, highest
// precedence first.
type ObjectSettings struct {
	portal          *Portal
	objectGlobal    *storage.Store
	objectNodeLocal *storage.Store
}

// Settings opens (creating if necessary) the object-scoped config stores
// for objectKey.
func (p *Portal) Settings(objectKey string) (*ObjectSettings, error) {
	objectGlobal, err := p.db.Store([]string{"object_cfg", objectKey, "global"}, storage.Gob, false)
	if err != nil {
		return nil, err
	}
	objectNodeLocal, err := p.db.Store([]string{"object_cfg", objectKey, "node"}, storage.Gob, false)
	if err != nil {
		return nil, err
	}
	return &ObjectSettings{portal: p, objectGlobal: objectGlobal, objectNodeLocal: objectNodeLocal}, nil
}

// SetGlobal writes a setting shared across nodes for this object.
func (s *ObjectSettings) SetGlobal(key string, value any) error {
	return setSetting(s.objectGlobal, key, value)
}

// SetNodeLocal writes a node-scoped setting for this object.
func (s *ObjectSettings) SetNodeLocal(key string, value any) error {
	return setSetting(s.objectNodeLocal, key, value)
}

// EffectiveSetting resolves key across all four levels: portal-global,
// portal-node-local, object-global, object-node-local, in that precedence
// order.
func (s *ObjectSettings) EffectiveSetting(key string, out any) error {
	if err := s.portal.portalConfig.Get(key, out); err == nil {
		return nil
	}
	if err := s.portal.nodeConfig.Get(key, out); err == nil {
		return nil
	}
	if err := s.objectGlobal.Get(key, out); err == nil {
		return nil
	}
	if err := s.objectNodeLocal.Get(key, out); err == nil {
		return nil
	}
	return portalerr.ErrNotFound
}
