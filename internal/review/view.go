package review

import (
	"github.com/user/wosafety/internal/hazard"
	"github.com/user/wosafety/internal/render"
	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
	"github.com/user/wosafety/internal/widget"
)

// View is everything a client needs to draw the page.
type View struct {
	WorkOrder types.WorkOrder  `json:"work_order"`
	Indicator render.Indicator `json:"status_indicator"`
	Error     string           `json:"error,omitempty"`

	Loading        bool `json:"loading"`
	LoadingHazards bool `json:"loading_hazards"`

	SessionID   types.SessionID  `json:"session_id,omitempty"`
	StreamState string           `json:"stream_state"`
	Streaming   bool             `json:"streaming"`
	Fragments   []types.Fragment `json:"fragments"`
	// Response is the markdown shown in the response section.
	Response string `json:"response"`

	Map            *MapView                `json:"map,omitempty"`
	Hazards        []types.HazardFeature   `json:"hazards,omitempty"`
	HazardsChecked bool                    `json:"hazards_checked"`
	Records        []types.StreamingRecord `json:"records,omitempty"`
}

// MapView describes the widget slot. It is present only when the work order
// has a location name.
type MapView struct {
	widget.State
	Available   bool       `json:"available"`
	Center      [2]float64 `json:"center"`
	Description string     `json:"description"`
	Markers     []Marker   `json:"markers,omitempty"`
}

// Marker is one hazard drawn on the map.
type Marker struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Label    string  `json:"label"`
	Color    string  `json:"color"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// View renders the current page state.
func (p *Page) View() View {
	st := p.sub.State()
	frags := p.sub.Snapshot()
	hasContent := p.sub.HasContent()
	ws := p.widget.State()

	p.mu.Lock()
	defer p.mu.Unlock()

	wo := *p.workOrder
	v := View{
		WorkOrder:      wo,
		Indicator:      render.StatusIndicator(wo.Status),
		Error:          p.errMsg,
		Loading:        p.loading,
		LoadingHazards: p.loadingHazards,
		SessionID:      p.sessionID,
		StreamState:    st.String(),
		Streaming:      st == stream.StateSubscribing || st == stream.StateActive,
		Fragments:      frags,
		Hazards:        p.hazards,
		HazardsChecked: p.hazardsChecked,
		Records:        append([]types.StreamingRecord(nil), p.records...),
	}
	v.Response = response(v.Streaming, hasContent, frags, wo.SafetyCheckResponse)

	if wo.LocationName != "" {
		v.Map = mapView(ws, &wo, p.hazards)
	}
	return v
}

// response picks what the response section shows: live fragments while
// streaming, buffered fragments of the last check, then the stored result.
func response(streaming, hasContent bool, frags []types.Fragment, stored string) string {
	switch {
	case streaming && !hasContent:
		return render.WaitingMessage
	case hasContent:
		return render.Markdown(frags)
	case stored != "":
		return render.StoredResult(stored)
	default:
		return render.NoResultMessage
	}
}

func mapView(ws widget.State, wo *types.WorkOrder, feats []types.HazardFeature) *MapView {
	m := &MapView{
		State:       ws,
		Available:   wo.HasCoordinates(),
		Description: wo.LocationName,
	}
	if lat, lng, err := hazard.ParseLocation(wo.Location); err == nil {
		m.Center = [2]float64{lng, lat}
	} else {
		m.Available = false
	}
	for _, f := range feats {
		lat, lng, ok := hazard.Anchor(f.Geometry)
		if !ok {
			continue
		}
		label := f.Properties.Category1
		if f.Properties.Location != "" {
			label += ": " + f.Properties.Location
		}
		m.Markers = append(m.Markers, Marker{
			ID:       f.Properties.ID,
			Category: f.Properties.Category1,
			Label:    label,
			Color:    hazard.MarkerColor(f.Properties.Category1),
			Lat:      lat,
			Lng:      lng,
		})
	}
	return m
}
