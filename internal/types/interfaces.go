// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

type SessionStore interface {
	Create(ctx context.Context, workOrderID WorkOrderID) (*Session, error)
	Get(ctx context.Context, id SessionID) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	SetStatus(ctx context.Context, id SessionID, status string) error
}

type RecordStore interface {
	Append(ctx context.Context, record *StreamingRecord) error
	List(ctx context.Context, sessionID SessionID) ([]RawRecord, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
	// Watch calls fn with the full record set of the session after every
	// change. The returned func stops the watch.
	Watch(sessionID SessionID, fn func([]RawRecord)) (stop func())
}

type WorkOrderStore interface {
	List(ctx context.Context) ([]*WorkOrder, error)
	Get(ctx context.Context, id WorkOrderID) (*WorkOrder, error)
	Put(ctx context.Context, wo *WorkOrder) error
	SetSafetyCheck(ctx context.Context, id WorkOrderID, response string, at time.Time) error
}
