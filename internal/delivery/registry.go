// Package delivery routes safety-check notifications to the channel named
// by a notify key's prefix.
package delivery

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/user/wosafety/internal/types"
)

// ErrNoHandler is returned by Deliver when no prefix matches the key.
var ErrNoHandler = errors.New("no delivery handler")

// Handler delivers a message to the destination identified by notifyKey.
type Handler func(notifyKey, message string) error

// Registry routes messages by notify key prefix (e.g. "telegram:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for notify keys starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver calls the handler with the longest prefix matching notifyKey.
func (r *Registry) Deliver(notifyKey, message string) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(notifyKey, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("%w for notify key %q", ErrNoHandler, notifyKey)
	}
	if err := handler(notifyKey, message); err != nil {
		return fmt.Errorf("deliver via %q: %w", best, err)
	}
	return nil
}

// Prefixes lists the registered prefixes, longest first.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	return out
}

// FormatResult builds the notification for a finished safety check.
func FormatResult(id types.WorkOrderID, result string) string {
	return fmt.Sprintf("Safety check for work order %s\n\n%s", id, result)
}

// FormatFailure builds the notification for a failed safety check.
func FormatFailure(id types.WorkOrderID, err error) string {
	return fmt.Sprintf("Safety check for work order %s failed: %v", id, err)
}
