// internal/types/models.go
package types

import (
	"time"
)

// PlaceholderIndex marks a stream that has started but carries no content yet.
const PlaceholderIndex = -1

// Fragment is one piece of a streamed response, positioned by Index.
type Fragment struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// PushEvent is the wire shape delivered by the streaming channel. Index is
// optional; producers normally set it.
type PushEvent struct {
	Index *int   `json:"index,omitempty"`
	Chunk string `json:"chunk"`
}

// IndexOf is a convenience for building indexed push events.
func IndexOf(i int) *int {
	return &i
}

type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// StreamingRecord is a persisted chat-style message belonging to a session.
type StreamingRecord struct {
	ID               RecordID  `json:"id"`
	Content          string    `json:"content"`
	Role             Role      `json:"role"`
	CreatedAt        string    `json:"createdAt,omitempty"`
	SessionID        SessionID `json:"chatSessionId"`
	ToolName         string    `json:"tool_name,omitempty"`
	ToolCallID       string    `json:"tool_call_id,omitempty"`
	ToolCalls        string    `json:"tool_calls,omitempty"`
	ResponseComplete bool      `json:"responseComplete,omitempty"`
	Trace            string    `json:"trace,omitempty"`
	Owner            string    `json:"owner,omitempty"`
	ChainOfThought   bool      `json:"chainOfThought,omitempty"`
	UserFeedback     string    `json:"userFeedback,omitempty"`
}

// RawRecord is an untyped record as delivered by the persistence channel.
type RawRecord map[string]any

// Session is one safety-check conversation.
type Session struct {
	ID          SessionID   `json:"id"`
	WorkOrderID WorkOrderID `json:"work_order_id"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Location holds coordinates as strings, the way the work-order source
// supplies them. Either may be empty.
type Location struct {
	Latitude  string `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty" yaml:"longitude,omitempty"`
}

type WorkOrder struct {
	ID                     WorkOrderID `json:"work_order_id" yaml:"work_order_id"`
	Description            string      `json:"description" yaml:"description"`
	AssetID                string      `json:"asset_id" yaml:"asset_id"`
	ScheduledStart         string      `json:"scheduled_start_timestamp" yaml:"scheduled_start_timestamp"`
	ScheduledFinish        string      `json:"scheduled_finish_timestamp" yaml:"scheduled_finish_timestamp"`
	Status                 string      `json:"status" yaml:"status"`
	Priority               string      `json:"priority" yaml:"priority"`
	LocationName           string      `json:"location_name,omitempty" yaml:"location_name,omitempty"`
	Location               *Location   `json:"location_details,omitempty" yaml:"location_details,omitempty"`
	SafetyCheckResponse    string      `json:"safetycheckresponse,omitempty" yaml:"safetycheckresponse,omitempty"`
	SafetyCheckPerformedAt string      `json:"safetyCheckPerformedAt,omitempty" yaml:"safetyCheckPerformedAt,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (w *WorkOrder) HasCoordinates() bool {
	return w.Location != nil && w.Location.Latitude != "" && w.Location.Longitude != ""
}

// WithoutSafetyCheck returns a copy with the previous safety-check result removed.
func (w WorkOrder) WithoutSafetyCheck() WorkOrder {
	w.SafetyCheckResponse = ""
	w.SafetyCheckPerformedAt = ""
	if w.Location != nil {
		loc := *w.Location
		w.Location = &loc
	}
	return w
}

type Geometry struct {
	Type        string     `json:"type"`
	Coordinates any        `json:"coordinates,omitempty"`
	Geometries  []Geometry `json:"geometries,omitempty"`
}

type HazardProperties struct {
	ID          string `json:"id"`
	Category1   string `json:"category1"`
	Category2   string `json:"category2,omitempty"`
	Status      string `json:"status,omitempty"`
	Location    string `json:"location,omitempty"`
	SourceOrg   string `json:"sourceOrg,omitempty"`
	SourceTitle string `json:"sourceTitle,omitempty"`
	FeedType    string `json:"feedType,omitempty"`
	Size        string `json:"size,omitempty"`
	Updated     string `json:"updated,omitempty"`
}

// HazardFeature is a GeoJSON feature from the hazard/event feed.
type HazardFeature struct {
	Type       string           `json:"type"`
	Geometry   Geometry         `json:"geometry"`
	Properties HazardProperties `json:"properties"`
}
