package gateway

import (
	"context"
	"time"

	"github.com/user/wosafety/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the safety agent for a session.
type Run struct {
	ID          types.RunID
	SessionID   types.SessionID
	WorkOrderID types.WorkOrderID
	Status      RunStatus
	Attempts    int
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	Error       error
	Ctx         context.Context

	// OnComplete receives the final analysis text.
	OnComplete func(response string)
	// OnError is called when the run fails for good.
	OnError func(err error)
}

// NewRun creates a Run in the Queued state.
func NewRun(sessionID types.SessionID, workOrderID types.WorkOrderID) *Run {
	return &Run{
		ID:          types.NewRunID(),
		SessionID:   sessionID,
		WorkOrderID: workOrderID,
		Status:      RunStatusQueued,
		CreatedAt:   time.Now(),
	}
}
