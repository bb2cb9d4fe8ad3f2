// Package widget coordinates the single map-widget slot of a review page.
//
// The map library keeps process-wide mutable state: an instance counter and
// a per-DOM-node instance reference. Registry owns that state explicitly and
// Coordinator is its only writer, so a new widget is never mounted before the
// previous one is torn down.
package widget

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle is one mounted widget instance.
type Handle struct {
	InstanceID string
	DOMNodeID  string
	LibraryID  int

	live atomic.Bool
}

// Live reports whether the handle still references a mounted widget.
func (h *Handle) Live() bool { return h.live.Load() }

// DuplicateDomNodeError means a widget was mounted on a DOM node that a
// different live handle still holds.
type DuplicateDomNodeError struct {
	DOMNodeID string
	Existing  string
	Incoming  string
}

func (e *DuplicateDomNodeError) Error() string {
	return fmt.Sprintf("dom node %s already holds live widget %s (incoming %s)", e.DOMNodeID, e.Existing, e.Incoming)
}

// Registry models the library's singleton state for one page: the instance
// counter and the set of DOM nodes with a live handle.
type Registry struct {
	mu      sync.Mutex
	counter int
	live    map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Handle)}
}

// Register stamps h with the next library id and marks it live.
// Registering a handle that is already live is a no-op.
func (r *Registry) Register(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.live[h.DOMNodeID]; ok {
		if existing == h {
			return nil
		}
		if existing.Live() {
			return &DuplicateDomNodeError{
				DOMNodeID: h.DOMNodeID,
				Existing:  existing.InstanceID,
				Incoming:  h.InstanceID,
			}
		}
	}
	r.counter++
	h.LibraryID = r.counter
	h.live.Store(true)
	r.live[h.DOMNodeID] = h
	return nil
}

// Release unmounts a single handle.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[h.DOMNodeID] == h {
		delete(r.live, h.DOMNodeID)
	}
	h.live.Store(false)
}

// InvalidateAll resets the counter and marks every handle not live without
// running any teardown of its own.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter = 0
	for id, h := range r.live {
		h.live.Store(false)
		delete(r.live, id)
	}
}

// Live returns the live handle on domNodeID, if any.
func (r *Registry) Live(domNodeID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[domNodeID]
	return h, ok
}

func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) Counter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}
