// Package hazard supplies geographic hazard and emergency events near a
// work order's location.
package hazard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/user/wosafety/internal/types"
)

// DefaultRadiusKm is the search radius used when none is configured.
const DefaultRadiusKm = 50

// Feed returns hazard features within radiusKm of a point.
type Feed interface {
	Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]types.HazardFeature, error)
}

// Stub is a Feed backed by a fixed feature list. Features are not filtered
// by distance.
type Stub struct {
	Features []types.HazardFeature
}

func (s *Stub) Nearby(_ context.Context, _, _, _ float64) ([]types.HazardFeature, error) {
	out := make([]types.HazardFeature, len(s.Features))
	copy(out, s.Features)
	return out, nil
}

// FileFeed reads a GeoJSON FeatureCollection from disk on every query.
type FileFeed struct {
	path string
}

func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

type featureCollection struct {
	Type     string                `json:"type"`
	Features []types.HazardFeature `json:"features"`
}

func (f *FileFeed) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]types.HazardFeature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read hazard feed: %w", err)
	}
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse hazard feed: %w", err)
	}

	var out []types.HazardFeature
	for _, feat := range fc.Features {
		p, ok := anchor(feat.Geometry)
		if !ok {
			continue
		}
		if DistanceKm(lat, lng, p[1], p[0]) <= radiusKm {
			out = append(out, feat)
		}
	}
	return out, nil
}

// ParseLocation converts a work order's string coordinates.
func ParseLocation(loc *types.Location) (lat, lng float64, err error) {
	if loc == nil || loc.Latitude == "" || loc.Longitude == "" {
		return 0, 0, fmt.Errorf("location incomplete")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(loc.Latitude), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse latitude: %w", err)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(loc.Longitude), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse longitude: %w", err)
	}
	return lat, lng, nil
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// Anchor returns the point a feature is drawn at.
func Anchor(g types.Geometry) (lat, lng float64, ok bool) {
	p, ok := anchor(g)
	return p[1], p[0], ok
}

// anchor picks the [lng, lat] position used to place a feature: the point
// itself, or the first vertex of the first polygon ring.
func anchor(g types.Geometry) ([2]float64, bool) {
	switch g.Type {
	case "Point":
		return position(g.Coordinates)
	case "Polygon":
		rings, ok := g.Coordinates.([]any)
		if !ok || len(rings) == 0 {
			return [2]float64{}, false
		}
		ring, ok := rings[0].([]any)
		if !ok || len(ring) == 0 {
			return [2]float64{}, false
		}
		return position(ring[0])
	case "GeometryCollection":
		for _, sub := range g.Geometries {
			if p, ok := anchor(sub); ok {
				return p, true
			}
		}
	}
	return [2]float64{}, false
}

func position(v any) ([2]float64, bool) {
	coords, ok := v.([]any)
	if !ok || len(coords) < 2 {
		return [2]float64{}, false
	}
	lng, ok1 := coords[0].(float64)
	lat, ok2 := coords[1].(float64)
	if !ok1 || !ok2 {
		return [2]float64{}, false
	}
	return [2]float64{lng, lat}, true
}

// MarkerColor maps a hazard category to its map marker color.
func MarkerColor(category string) string {
	switch strings.ToLower(category) {
	case "fire":
		return "#ff0000"
	case "flooding":
		return "#0000ff"
	case "tree down":
		return "#008000"
	case "building damage":
		return "#ffa500"
	case "met":
		return "#ffff00"
	default:
		return "#808080"
	}
}
