package httpapi

import (
	"time"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
)

type transformJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	K float64 `json:"k"`
}

type clusterJSON struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	ScreenX  float64  `json:"screen_x"`
	ScreenY  float64  `json:"screen_y"`
	Count    int      `json:"count"`
	Label    string   `json:"label"`
	RadiusPx float64  `json:"radius_px"`
	Color    string   `json:"color"`
	EventIDs []string `json:"event_ids"`
}

type markerJSON struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Severity intel.Severity `json:"severity"`
	Verified bool           `json:"verified"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	ScreenX  float64        `json:"screen_x"`
	ScreenY  float64        `json:"screen_y"`
	Color    string         `json:"color"`
}

type contourJSON struct {
	Threshold float64        `json:"threshold"`
	Color     string         `json:"color"`
	Rings     [][][2]float64 `json:"rings"`
}

// layerResponse carries map-space coordinates plus the screen position under
// the layer's transform, so clients can draw without reimplementing it.
type layerResponse struct {
	Transform  transformJSON `json:"transform"`
	Fidelity   string        `json:"fidelity"`
	EventCount int           `json:"event_count"`
	BuiltAt    time.Time     `json:"built_at"`
	Clusters   []clusterJSON `json:"clusters"`
	Markers    []markerJSON  `json:"markers"`
	Contours   []contourJSON `json:"contours"`
}

func newLayerResponse(l *mapengine.Layer) layerResponse {
	t := l.Transform
	resp := layerResponse{
		Transform:  transformJSON{X: t.X, Y: t.Y, K: t.K},
		Fidelity:   l.Fidelity.String(),
		EventCount: l.EventCount,
		BuiltAt:    l.BuiltAt,
		Clusters:   make([]clusterJSON, 0, len(l.Clusters)),
		Markers:    make([]markerJSON, 0, len(l.Unclustered)),
		Contours:   make([]contourJSON, 0, len(l.Contours)),
	}

	for _, c := range l.Clusters {
		sx, sy := t.Apply(c.X, c.Y)
		ids := make([]string, len(c.Members))
		for i, m := range c.Members {
			ids[i] = m.Event.ID
		}
		resp.Clusters = append(resp.Clusters, clusterJSON{
			X: c.X, Y: c.Y, ScreenX: sx, ScreenY: sy,
			Count:    c.Count,
			Label:    mapengine.ClusterLabel(c.Count),
			RadiusPx: mapengine.ClusterRadiusPx(c.Count, t.K) * t.K,
			Color:    hexColor(mapengine.ClusterColor(c.Count)),
			EventIDs: ids,
		})
	}

	for _, p := range l.Unclustered {
		sx, sy := t.Apply(p.X, p.Y)
		resp.Markers = append(resp.Markers, markerJSON{
			ID:       p.Event.ID,
			Title:    p.Event.Title,
			Severity: p.Event.Severity,
			Verified: p.Event.Verified,
			X:        p.X, Y: p.Y, ScreenX: sx, ScreenY: sy,
			Color: hexColor(mapengine.SeverityColor(p.Event.Severity)),
		})
	}

	for _, c := range l.Contours {
		rings := make([][][2]float64, len(c.Rings))
		for i, ring := range c.Rings {
			rings[i] = make([][2]float64, len(ring))
			for j, p := range ring {
				rings[i][j] = [2]float64{p.X, p.Y}
			}
		}
		resp.Contours = append(resp.Contours, contourJSON{
			Threshold: c.Threshold,
			Color:     hexColor(c.Color),
			Rings:     rings,
		})
	}
	return resp
}
