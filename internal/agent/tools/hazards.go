package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/wosafety/internal/hazard"
)

const maxHazardResults = 25

// NearbyHazards lists hazard and emergency events around a point.
type NearbyHazards struct {
	feed     hazard.Feed
	radiusKm float64
}

// NewNearbyHazards creates the tool. A non-positive radius falls back to
// hazard.DefaultRadiusKm.
func NewNearbyHazards(feed hazard.Feed, radiusKm float64) *NearbyHazards {
	if radiusKm <= 0 {
		radiusKm = hazard.DefaultRadiusKm
	}
	return &NearbyHazards{feed: feed, radiusKm: radiusKm}
}

func (n *NearbyHazards) Name() string { return "nearby_hazards" }
func (n *NearbyHazards) Description() string {
	return "List hazard and emergency events (fires, floods, storms, incidents) near a latitude and longitude"
}
func (n *NearbyHazards) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"latitude": {"type": "number", "description": "Latitude in decimal degrees"},
			"longitude": {"type": "number", "description": "Longitude in decimal degrees"},
			"radius_km": {"type": "number", "description": "Search radius in kilometres"}
		},
		"required": ["latitude", "longitude"]
	}`)
}

func (n *NearbyHazards) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		RadiusKm  float64  `json:"radius_km"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Latitude == nil || params.Longitude == nil {
		return "", fmt.Errorf("latitude and longitude are required")
	}
	radius := params.RadiusKm
	if radius <= 0 {
		radius = n.radiusKm
	}

	features, err := n.feed.Nearby(ctx, *params.Latitude, *params.Longitude, radius)
	if err != nil {
		return "", fmt.Errorf("query hazards: %w", err)
	}
	if len(features) == 0 {
		return fmt.Sprintf("No known hazard events within %.0f km.", radius), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d hazard event(s) within %.0f km:\n", len(features), radius)
	for i, f := range features {
		if i == maxHazardResults {
			fmt.Fprintf(&b, "... and %d more\n", len(features)-maxHazardResults)
			break
		}
		p := f.Properties
		fmt.Fprintf(&b, "- %s", p.Category1)
		if p.Category2 != "" {
			fmt.Fprintf(&b, " / %s", p.Category2)
		}
		if p.Location != "" {
			fmt.Fprintf(&b, " at %s", p.Location)
		}
		if p.Status != "" {
			fmt.Fprintf(&b, " (%s)", p.Status)
		}
		if p.SourceOrg != "" {
			fmt.Fprintf(&b, " [%s]", p.SourceOrg)
		}
		if p.Updated != "" {
			fmt.Fprintf(&b, " updated %s", p.Updated)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
