package review

import (
	"errors"
	"fmt"

	"github.com/user/wosafety/internal/types"
)

// Messages shown on the page. They replace any previous message.
const (
	MsgStreamFailed       = "Failed to receive real-time updates."
	MsgInvokeFailed       = "Failed to invoke safety agent."
	MsgCheckFailed        = "Failed to initiate safety check."
	MsgLocationIncomplete = "Work order location details are incomplete."
	MsgHazardCheckFailed  = "Failed to initiate emergency check"
)

var (
	ErrClosed           = errors.New("review page closed")
	ErrSectionCollapsed = errors.New("location section is collapsed")
	ErrCheckInProgress  = errors.New("check already in progress")
	ErrSuperseded       = errors.New("widget hidden by a newer request")
)

// IncompleteLocationError aborts a hazard check for a work order without
// usable coordinates.
type IncompleteLocationError struct {
	WorkOrderID types.WorkOrderID
}

func (e *IncompleteLocationError) Error() string {
	return fmt.Sprintf("work order %s: location details are incomplete", e.WorkOrderID)
}
