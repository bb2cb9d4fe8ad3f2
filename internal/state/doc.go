// Package state provides filesystem-backed storage implementations.
package state

import (
	"errors"

	"github.com/user/wosafety/internal/types"
)

// ErrNotFound is wrapped by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.RecordStore = (*RecordStore)(nil)
var _ types.WorkOrderStore = (*WorkOrderStore)(nil)
