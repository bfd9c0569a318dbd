// Package hooks is the extension point for pre-write checks and post-write
// callbacks.
//
// A hook is any value with a Name; it opts into individual capabilities by
// implementing the matching interfaces below. The Registry walks hooks in
// registration order and the first denial wins.
package hooks

import (
	"fmt"
	"sync"

	"github.com/marmos91/pagefs/pkg/storage"
)

// Hook is the common identity of every registered extension.
type Hook interface {
	Name() string
}

// PutVetoer can reject an upload before any state changes.
type PutVetoer interface {
	Hook
	CheckPut(path string, md storage.Metadata) Decision
}

// DeleteVetoer can reject a delete.
type DeleteVetoer interface {
	Hook
	CheckDelete(path string) Decision
}

// RenameVetoer can reject a rename.
type RenameVetoer interface {
	Hook
	CheckRename(path, newPath string) Decision
}

// AfterPutHook is told about every completed upload.
type AfterPutHook interface {
	Hook
	OnAfterPut(path string, md storage.Metadata, version uint64)
}

// AfterDeleteHook is told about every file that was tombstoned.
type AfterDeleteHook interface {
	Hook
	OnAfterDelete(path string)
}

// ChunkObserver is told about every page associated during ingestion.
type ChunkObserver interface {
	Hook
	OnChunkStored(path string, offset int64, length int, hash string)
}

// Decision is a vetoer's verdict.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the permissive decision.
var Allow = Decision{Allowed: true}

// Deny rejects with reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Veto identifies the hook that rejected an operation.
type Veto struct {
	Hook   string
	Reason string
}

func (v *Veto) Error() string {
	return fmt.Sprintf("vetoed by %s: %s", v.Hook, v.Reason)
}

// Registry holds hooks in registration order.
//
// Thread Safety:
// Register may race with dispatch; dispatch iterates over a snapshot. A nil
// *Registry dispatches to nothing.
type Registry struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewRegistry creates a registry pre-populated with hooks.
func NewRegistry(hooks ...Hook) *Registry {
	r := &Registry{}
	for _, h := range hooks {
		r.Register(h)
	}
	return r
}

// Register appends h to the dispatch order.
func (r *Registry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

func (r *Registry) snapshot() []Hook {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Hook, len(r.hooks))
	copy(out, r.hooks)
	return out
}

// CheckPut returns the first veto, or nil if every PutVetoer allows.
func (r *Registry) CheckPut(path string, md storage.Metadata) *Veto {
	for _, h := range r.snapshot() {
		if v, ok := h.(PutVetoer); ok {
			if d := v.CheckPut(path, md); !d.Allowed {
				return &Veto{Hook: h.Name(), Reason: d.Reason}
			}
		}
	}
	return nil
}

// CheckDelete returns the first veto, or nil if every DeleteVetoer allows.
func (r *Registry) CheckDelete(path string) *Veto {
	for _, h := range r.snapshot() {
		if v, ok := h.(DeleteVetoer); ok {
			if d := v.CheckDelete(path); !d.Allowed {
				return &Veto{Hook: h.Name(), Reason: d.Reason}
			}
		}
	}
	return nil
}

// CheckRename returns the first veto, or nil if every RenameVetoer allows.
func (r *Registry) CheckRename(path, newPath string) *Veto {
	for _, h := range r.snapshot() {
		if v, ok := h.(RenameVetoer); ok {
			if d := v.CheckRename(path, newPath); !d.Allowed {
				return &Veto{Hook: h.Name(), Reason: d.Reason}
			}
		}
	}
	return nil
}

// AfterPut notifies every AfterPutHook.
func (r *Registry) AfterPut(path string, md storage.Metadata, version uint64) {
	for _, h := range r.snapshot() {
		if a, ok := h.(AfterPutHook); ok {
			a.OnAfterPut(path, md, version)
		}
	}
}

// AfterDelete notifies every AfterDeleteHook.
func (r *Registry) AfterDelete(path string) {
	for _, h := range r.snapshot() {
		if a, ok := h.(AfterDeleteHook); ok {
			a.OnAfterDelete(path)
		}
	}
}

// ChunkStored notifies every ChunkObserver.
func (r *Registry) ChunkStored(path string, offset int64, length int, hash string) {
	for _, h := range r.snapshot() {
		if o, ok := h.(ChunkObserver); ok {
			o.OnChunkStored(path, offset, length, hash)
		}
	}
}
